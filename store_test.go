package prostlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenStoreCreatesSchema(t *testing.T) {
	store := newTestStore(t)

	tables := append([]string{"_sync_metadata", "_sync_queue", "_client_state"}, SyncableTables()...)
	for _, table := range tables {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenStoreSeedsSyncMetadata(t *testing.T) {
	store := newTestStore(t)

	var n int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM _sync_metadata").Scan(&n); err != nil {
		t.Fatalf("count metadata: %v", err)
	}
	if n != len(SyncableTables()) {
		t.Errorf("expected %d metadata rows, got %d", len(SyncableTables()), n)
	}
}

func TestOpenStoreEnablesWAL(t *testing.T) {
	store := newTestStore(t)

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal_mode wal, got %q", mode)
	}
}

func TestOpenStoreRecoversFromCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	// Not a SQLite file at all.
	if err := os.WriteFile(path, []byte("definitely not a database"), 0644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	store, err := OpenStore(path, nil)
	if err != nil {
		t.Fatalf("OpenStore should recover from corruption: %v", err)
	}
	defer store.Close()

	// Schema must be usable after the reset.
	if _, err := store.Stats(); err != nil {
		t.Errorf("Stats after recovery: %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)

	got, err := store.State("missing")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got != "" {
		t.Errorf("missing key should return empty, got %q", got)
	}

	if err := store.SetState("user_id", "user-1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := store.SetState("user_id", "user-2"); err != nil {
		t.Fatalf("SetState overwrite: %v", err)
	}

	got, err = store.State("user_id")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got != "user-2" {
		t.Errorf("expected user-2, got %q", got)
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LastSync(TableFestivals)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil before first sync, got %v", got)
	}

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if err := store.SetLastSync(TableFestivals, at); err != nil {
		t.Fatalf("SetLastSync: %v", err)
	}

	got, err = store.LastSync(TableFestivals)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if got == nil || !got.Equal(at) {
		t.Errorf("expected %v, got %v", at, got)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := store.Stats(); err != ErrStoreClosed {
		t.Errorf("Stats: expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.State("k"); err != ErrStoreClosed {
		t.Errorf("State: expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.PendingOperations(); err != ErrStoreClosed {
		t.Errorf("PendingOperations: expected ErrStoreClosed, got %v", err)
	}
}

func TestResetDestroysLocalData(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.ApplyFestivals([]Festival{
		{ID: "fest-1", Name: "Wiesn", StartDate: now, EndDate: now},
	}, now); err != nil {
		t.Fatalf("ApplyFestivals: %v", err)
	}
	if _, err := store.CheckIn(Attendance{
		UserID: "user-1", FestivalID: "fest-1", Date: "2026-09-20",
	}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Tables[TableAttendances].Live != 0 {
		t.Errorf("expected empty attendances after reset, got %d", stats.Tables[TableAttendances].Live)
	}
	if stats.PendingOperations != 0 {
		t.Errorf("expected empty queue after reset, got %d", stats.PendingOperations)
	}
}

func TestStatsCountsDirtyAndLive(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.ApplyFestivals([]Festival{
		{ID: "fest-1", Name: "Wiesn", StartDate: now, EndDate: now.Add(16 * 24 * time.Hour)},
	}, now); err != nil {
		t.Fatalf("ApplyFestivals: %v", err)
	}
	if _, err := store.CheckIn(Attendance{
		UserID: "user-1", FestivalID: "fest-1", Date: "2026-09-20",
	}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Tables[TableFestivals].Live != 1 || stats.Tables[TableFestivals].Dirty != 0 {
		t.Errorf("festivals: got %+v", stats.Tables[TableFestivals])
	}
	if stats.Tables[TableAttendances].Live != 1 || stats.Tables[TableAttendances].Dirty != 1 {
		t.Errorf("attendances: got %+v", stats.Tables[TableAttendances])
	}
	if stats.PendingOperations != 1 {
		t.Errorf("expected 1 pending operation, got %d", stats.PendingOperations)
	}
}

func TestMarkRecordCleanCompositeKey(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.ApplyGroups([]Group{{ID: "grp-1", Name: "Stammtisch"}}, now); err != nil {
		t.Fatalf("ApplyGroups: %v", err)
	}
	if _, err := store.JoinGroup(GroupMember{GroupID: "grp-1", UserID: "user-1"}); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}

	if err := store.MarkRecordClean(TableGroupMembers, "grp-1/user-1", now); err != nil {
		t.Fatalf("MarkRecordClean: %v", err)
	}

	var dirty int
	err := store.db.QueryRow(
		"SELECT _dirty FROM group_members WHERE group_id='grp-1' AND user_id='user-1'",
	).Scan(&dirty)
	if err != nil {
		t.Fatalf("read member: %v", err)
	}
	if dirty != 0 {
		t.Errorf("expected clean member, got dirty=%d", dirty)
	}
}

func TestPurgeSyncedDeletes(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if err := store.ApplyFestivals([]Festival{
		{ID: "fest-1", Name: "Wiesn", StartDate: now, EndDate: now},
	}, now); err != nil {
		t.Fatalf("ApplyFestivals: %v", err)
	}
	att, err := store.CheckIn(Attendance{UserID: "user-1", FestivalID: "fest-1", Date: "2026-09-20"})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if err := store.RemoveAttendance(att.ID); err != nil {
		t.Fatalf("RemoveAttendance: %v", err)
	}

	// Still dirty: purge must not touch it.
	n, err := store.PurgeSyncedDeletes()
	if err != nil {
		t.Fatalf("PurgeSyncedDeletes: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 purged while dirty, got %d", n)
	}

	// Confirmed by the server: now eligible.
	if err := store.MarkRecordClean(TableAttendances, att.ID, now); err != nil {
		t.Fatalf("MarkRecordClean: %v", err)
	}
	n, err = store.PurgeSyncedDeletes()
	if err != nil {
		t.Fatalf("PurgeSyncedDeletes: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}

	if _, err := store.GetAttendance(att.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after purge, got %v", err)
	}
}

func TestApplyOverwritesLocalState(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if _, err := store.SaveProfile(Profile{ID: "user-1", Username: "local-name"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	// Server wins: the pull overwrites the dirty local edit.
	if err := store.ApplyProfiles([]Profile{{ID: "user-1", Username: "server-name"}}, now); err != nil {
		t.Fatalf("ApplyProfiles: %v", err)
	}

	var username string
	var dirty int
	err := store.db.QueryRow("SELECT username, _dirty FROM profiles WHERE id='user-1'").Scan(&username, &dirty)
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	if username != "server-name" {
		t.Errorf("expected server-name, got %q", username)
	}
	if dirty != 0 {
		t.Errorf("expected clean row after apply, got dirty=%d", dirty)
	}
}
