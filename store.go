package prostlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/prostlog/prostlog/internal/store/migrations"
	_ "modernc.org/sqlite"
)

// Store owns the local SQLite mirror database. All components receive the
// Store by injection; the Client is the single ownership point for the
// open/close lifecycle.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	log    *DebugLogger
}

// OpenStore opens or creates the local store at path. The schema is
// verified with an integrity check first; a corrupt database is removed and
// re-created from scratch (accepted data loss), then migrations run in
// order. Migration failure aborts the open.
func OpenStore(path string, log *DebugLogger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if err := verifyIntegrity(db); err != nil {
		// Corruption remedy is a full destructive reset.
		log.Log("STORE integrity check failed, resetting database: %v", err)
		_ = db.Close()
		if err := removeDatabaseFiles(path); err != nil {
			return nil, fmt.Errorf("reset corrupt database: %w", err)
		}
		db, err = openDB(path)
		if err != nil {
			return nil, err
		}
	}

	store := &Store{db: db, path: path, log: log}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	if err := store.ensureSyncMetadata(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sync metadata: %w", err)
	}

	return store, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per-connection; a single pooled connection keeps them in
	// force and sidesteps writer contention.
	db.SetMaxOpenConns(1)

	// WAL for better concurrent reads while the sync loop writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

func verifyIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

func removeDatabaseFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// ensureSyncMetadata lazily creates one metadata row per syncable table.
// Rows are never deleted.
func (s *Store) ensureSyncMetadata() error {
	for _, table := range syncableTables {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO _sync_metadata (table_name, schema_version) VALUES (?, 1)
		`, table)
		if err != nil {
			return fmt.Errorf("store: metadata row for %s: %w", table, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Reset destroys all local data and re-creates the schema. Destructive.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close for reset: %w", err)
	}
	if err := removeDatabaseFiles(s.path); err != nil {
		return fmt.Errorf("store: remove database: %w", err)
	}

	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	s.db = db
	if err := s.migrate(); err != nil {
		return err
	}
	return s.ensureSyncMetadata()
}

// Stats returns per-table live/dirty counts plus queue health.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{Tables: make(map[string]TableStats, len(syncableTables))}
	for _, table := range syncableTables {
		var ts TableStats
		if err := s.db.QueryRow(
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE _deleted = 0", table),
		).Scan(&ts.Live); err != nil {
			return nil, fmt.Errorf("store: count %s: %w", table, err)
		}
		if err := s.db.QueryRow(
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE _dirty = 1", table),
		).Scan(&ts.Dirty); err != nil {
			return nil, fmt.Errorf("store: dirty count %s: %w", table, err)
		}
		stats.Tables[table] = ts
	}

	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM _sync_queue WHERE status = ?", string(StatusPending),
	).Scan(&stats.PendingOperations); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM _sync_queue WHERE status = ?", string(StatusFailed),
	).Scan(&stats.FailedOperations); err != nil {
		return nil, err
	}

	stats.LastSyncAt = s.lastFullSyncLocked()
	return stats, nil
}

func (s *Store) lastFullSyncLocked() *time.Time {
	var v sql.NullString
	_ = s.db.QueryRow("SELECT value FROM _client_state WHERE key = 'last_full_sync'").Scan(&v)
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// State reads a value from the client-state table. Missing keys return "".
func (s *Store) State(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM _client_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetState writes a value to the client-state table.
func (s *Store) SetState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO _client_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LastSync returns the last successful pull time for a table, if any.
func (s *Store) LastSync(table string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var v sql.NullString
	err := s.db.QueryRow(
		"SELECT last_sync_at FROM _sync_metadata WHERE table_name = ?", table,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, fmt.Errorf("store: parse last_sync_at for %s: %w", table, err)
	}
	return &t, nil
}

// SetLastSync records a successful sync time for a table.
func (s *Store) SetLastSync(table string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(
		"UPDATE _sync_metadata SET last_sync_at = ? WHERE table_name = ?",
		at.UTC().Format(time.RFC3339), table,
	)
	return err
}

// DirtyCount returns the number of dirty rows across all mirrored tables.
func (s *Store) DirtyCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	total := 0
	for _, table := range syncableTables {
		var n int
		if err := s.db.QueryRow(
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE _dirty = 1", table),
		).Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// MarkRecordClean clears the dirty flag and stamps the synced timestamp on
// an entity row. Called when the corresponding queue item completes.
func (s *Store) MarkRecordClean(table, recordID string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.markRecordCleanLocked(s.db, table, recordID, syncedAt)
}

// execer abstracts *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) markRecordCleanLocked(ex execer, table, recordID string, syncedAt time.Time) error {
	where, args, err := recordKeyClause(table, recordID)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET _dirty = 0, _synced_at = ? WHERE %s", table, where,
	)
	_, err = ex.Exec(query, append([]any{syncedAt.UTC().Format(time.RFC3339)}, args...)...)
	return err
}

// recordKeyClause maps a record id onto the table's primary key columns.
// Composite-key tables encode their key as "a/b". The table name is
// validated against the syncable set before being interpolated.
func recordKeyClause(table, recordID string) (string, []any, error) {
	valid := false
	for _, t := range syncableTables {
		if t == table {
			valid = true
			break
		}
	}
	if !valid {
		return "", nil, fmt.Errorf("store: unknown table %q", table)
	}

	switch table {
	case TableGroupMembers:
		parts := strings.SplitN(recordID, "/", 2)
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("store: malformed group member id %q", recordID)
		}
		return "group_id = ? AND user_id = ?", []any{parts[0], parts[1]}, nil
	case TableTentPrices:
		parts := strings.SplitN(recordID, "/", 2)
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("store: malformed tent price id %q", recordID)
		}
		return "festival_id = ? AND tent_id = ?", []any{parts[0], parts[1]}, nil
	default:
		return "id = ?", []any{recordID}, nil
	}
}

// PurgeSyncedDeletes destroys soft-deleted rows whose deletion has been
// confirmed by the server. Rows that are still dirty are never purged.
func (s *Store) PurgeSyncedDeletes() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	total := 0
	// Children before parents to respect foreign keys.
	for i := len(syncableTables) - 1; i >= 0; i-- {
		res, err := s.db.Exec(fmt.Sprintf(
			"DELETE FROM %s WHERE _deleted = 1 AND _dirty = 0 AND _synced_at IS NOT NULL",
			syncableTables[i],
		))
		if err != nil {
			return total, fmt.Errorf("store: purge %s: %w", syncableTables[i], err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timeText(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTimeText(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullTimeText(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := timeText(*t)
	return &v
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}
