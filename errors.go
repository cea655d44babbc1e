package prostlog

import (
	"errors"
	"fmt"
)

// Common errors returned by the prostlog sync engine.
var (
	// ErrNotFound is returned when a requested record does not exist locally.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrSyncInProgress is returned when Sync is called while a cycle is running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrProcessorBusy is returned when ProcessQueue is called re-entrantly.
	ErrProcessorBusy = errors.New("queue processor already running")

	// ErrOffline is returned when a network operation is attempted without a
	// configured remote API.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrNoHandler is returned when a queue item has no registered handler
	// for its operation type.
	ErrNoHandler = errors.New("no handler registered for operation")

	// ErrInvalidOperation is returned when enqueuing an unknown operation type.
	ErrInvalidOperation = errors.New("invalid queue operation")

	// ErrInvalidDrinkType is returned when logging an unknown drink type.
	ErrInvalidDrinkType = errors.New("invalid drink type")

	// ErrQueueItemNotFound is returned when a queue item lookup misses.
	ErrQueueItemNotFound = errors.New("queue item not found")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// RemoteError is returned when a remote API call fails.
// Extractable via errors.As(). Supports Unwrap().
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api: %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("api: %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying. Network errors
// (no status) and server-side 5xx responses are transient; 4xx rejections
// are permanent and short-circuit the retry ceiling.
func (e *RemoteError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500
}

// isPermanentRejection reports whether err is a non-retryable remote rejection.
func isPermanentRejection(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return !re.Transient()
	}
	return false
}
