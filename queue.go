package prostlog

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConsumptionIdempotencyKey derives the deterministic key for one logged
// drink. The same logical event always yields the same key, so replays
// collapse both locally (unique index) and on the server (header).
func ConsumptionIdempotencyKey(userID, festivalID, date string, drink DrinkType, recordedAt time.Time) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		userID,
		festivalID,
		date,
		string(drink),
		recordedAt.UTC().Format(time.RFC3339),
	}, "|")))
	return hex.EncodeToString(h[:])
}

// EnqueueOperation appends an operation to the durable outbox. The item id
// is assigned here if empty; status starts at pending with zero retries.
func (s *Store) EnqueueOperation(item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.enqueueTx(tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

// enqueueTx inserts the queue row inside the caller's transaction.
// Callers hold s.mu.
func (s *Store) enqueueTx(tx *sql.Tx, item *QueueItem) error {
	if !item.Operation.IsValid() {
		return ErrInvalidOperation
	}
	if item.TableName == "" || item.RecordID == "" {
		return &ValidationError{Field: "table_name/record_id", Message: "must not be empty"}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if len(item.Payload) == 0 {
		item.Payload = []byte("{}")
	}

	_, err := tx.Exec(`
		INSERT INTO _sync_queue (id, operation, table_name, record_id, payload,
			idempotency_key, depends_on, status, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, item.ID, string(item.Operation), item.TableName, item.RecordID, string(item.Payload),
		nullString(item.IdempotencyKey), nullString(item.DependsOn),
		string(item.Status), item.RetryCount, timeText(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: enqueue operation: %w", err)
	}

	s.log.LogQueue("enqueued", item)
	return nil
}

// PendingOperations returns outbox items eligible for a processor pass, in
// creation order. Failed items are included so they are retried until the
// ceiling; the processor skips those already past it.
func (s *Store) PendingOperations() ([]QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.queueWhereLocked("status IN ('pending', 'failed') ORDER BY created_at, id")
}

// FailedOperations returns all items currently in the failed state.
func (s *Store) FailedOperations() ([]QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.queueWhereLocked("status = 'failed' ORDER BY created_at, id")
}

// QueueItemByID returns a single outbox item.
func (s *Store) QueueItemByID(id string) (*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	items, err := s.queueWhereLocked("id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrQueueItemNotFound
	}
	return &items[0], nil
}

func (s *Store) queueWhereLocked(where string, args ...any) ([]QueueItem, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, table_name, record_id, payload,
		       idempotency_key, depends_on, status, retry_count, last_error, created_at
		FROM _sync_queue WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query queue: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var (
			item      QueueItem
			op        string
			payload   string
			idemKey   sql.NullString
			dependsOn sql.NullString
			status    string
			lastErr   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&item.ID, &op, &item.TableName, &item.RecordID, &payload,
			&idemKey, &dependsOn, &status, &item.RetryCount, &lastErr, &createdAt); err != nil {
			return nil, err
		}
		item.Operation = Operation(op)
		item.Payload = []byte(payload)
		item.IdempotencyKey = idemKey.String
		item.DependsOn = dependsOn.String
		item.Status = QueueStatus(status)
		item.LastError = lastErr.String
		item.CreatedAt = parseTimeText(createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkProcessing transitions a pending or failed item to processing.
func (s *Store) MarkProcessing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE _sync_queue SET status = 'processing'
		WHERE id = ? AND status IN ('pending', 'failed')
	`, id)
	if err != nil {
		return fmt.Errorf("store: mark processing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// CompleteOperation marks an item completed and, for mirrored tables, marks
// the underlying record clean in the same transaction. Completion and the
// local mirror update are one logical step.
func (s *Store) CompleteOperation(item *QueueItem, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE _sync_queue SET status = 'completed', last_error = NULL
		WHERE id = ? AND status = 'processing'
	`, item.ID)
	if err != nil {
		return fmt.Errorf("store: complete operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQueueItemNotFound
	}

	// UPLOAD_FILE completion is reconciled by FinishPictureUpload instead.
	if item.Operation != OpUploadFile {
		if err := s.markRecordCleanLocked(tx, item.TableName, item.RecordID, syncedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.LogQueue("completed", item)
	return nil
}

// FailOperation records a handler failure: retry count increments, status
// returns to failed, and the error text is retained. A permanent rejection
// jumps the count to the ceiling so the item is never retried automatically.
func (s *Store) FailOperation(item *QueueItem, cause error, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	retries := item.RetryCount + 1
	if isPermanentRejection(cause) && retries < maxRetries {
		retries = maxRetries
	}

	res, err := s.db.Exec(`
		UPDATE _sync_queue SET status = 'failed', retry_count = ?, last_error = ?
		WHERE id = ? AND status = 'processing'
	`, retries, cause.Error(), item.ID)
	if err != nil {
		return fmt.Errorf("store: fail operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQueueItemNotFound
	}

	item.RetryCount = retries
	item.Status = StatusFailed
	item.LastError = cause.Error()
	s.log.LogQueue("failed", item)
	return nil
}

// HasCompleted reports whether the given queue item id exists and has
// reached the completed state. Unknown ids report false.
func (s *Store) HasCompleted(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM _sync_queue WHERE id = ? AND status = 'completed'", id,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RetryFailed resets failed items to pending with a zero retry count,
// re-arming items that exhausted the ceiling. Returns the number re-armed.
func (s *Store) RetryFailed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE _sync_queue SET status = 'pending', retry_count = 0, last_error = NULL
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, fmt.Errorf("store: retry failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneCompleted deletes completed queue items older than the cutoff.
// Completed items are kept around as a dependency ledger; pruning them too
// aggressively would orphan depends_on references of unfinished items, so
// rows still referenced by a live item survive the prune.
func (s *Store) PruneCompleted(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`
		DELETE FROM _sync_queue
		WHERE status = 'completed' AND created_at < ?
		  AND id NOT IN (
			SELECT depends_on FROM _sync_queue
			WHERE depends_on IS NOT NULL AND status != 'completed'
		  )
	`, timeText(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: prune completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// QueueCounts returns the number of items per status.
func (s *Store) QueueCounts() (map[QueueStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM _sync_queue GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[QueueStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[QueueStatus(status)] = n
	}
	return counts, rows.Err()
}

// OutstandingOperations counts unfinished queue items referencing a table.
func (s *Store) OutstandingOperations(table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM _sync_queue
		WHERE table_name = ? AND status IN ('pending', 'processing', 'failed')
	`, table).Scan(&n)
	return n, err
}

// latestPendingOpLocked returns the id of the most recent unfinished queue
// item for the given record, or "" when the record has none. Used to chain
// child operations behind their parent's upload. Callers hold s.mu.
func (s *Store) latestPendingOpLocked(table, recordID string) (string, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM _sync_queue
		WHERE table_name = ? AND record_id = ? AND status IN ('pending', 'processing', 'failed')
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, table, recordID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: find pending op: %w", err)
	}
	return id, nil
}
