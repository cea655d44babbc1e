package prostlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DebugLogger provides debug logging for sync engine operations.
// When enabled, it logs queue activity, sync cycles, remote API failures,
// and photo pipeline steps. A nil logger is safe to use.
type DebugLogger struct {
	mu      sync.Mutex
	enabled bool
	writer  io.Writer
}

// NewDebugLogger creates a new debug logger.
// If logPath is empty, logs to stderr.
func NewDebugLogger(enabled bool, logPath string) (*DebugLogger, error) {
	var writer io.Writer = os.Stderr

	if enabled && logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		writer = f
	}

	return &DebugLogger{
		enabled: enabled,
		writer:  writer,
	}, nil
}

// Close closes the debug logger if it's writing to a file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.writer.(io.Closer); ok && l.writer != os.Stderr {
		return closer.Close()
	}
	return nil
}

// Log writes a debug message if logging is enabled.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(l.writer, "[%s] [PROSTLOG DEBUG] %s\n", timestamp, msg)
}

// LogQueue logs a queue event for an operation.
func (l *DebugLogger) LogQueue(event string, item *QueueItem) {
	if l == nil || !l.enabled || item == nil {
		return
	}
	l.Log("QUEUE [%s]: %s %s %s/%s retries=%d", event, item.ID, item.Operation, item.TableName, item.RecordID, item.RetryCount)
}

// LogSync logs sync cycle details.
func (l *DebugLogger) LogSync(phase string, details string) {
	if l == nil || !l.enabled {
		return
	}
	l.Log("SYNC [%s]: %s", phase, details)
}

// LogPhoto logs photo pipeline steps.
func (l *DebugLogger) LogPhoto(step string, pictureID string, details string) {
	if l == nil || !l.enabled {
		return
	}
	l.Log("PHOTO [%s] %s: %s", step, pictureID, details)
}

// LogError logs an error with full details.
func (l *DebugLogger) LogError(operation string, err error) {
	if l == nil || !l.enabled {
		return
	}
	l.Log("ERROR [%s]: %v", operation, err)
}
