package prostlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Client state keys.
const (
	stateUserID       = "user_id"
	stateFestivalID   = "festival_id"
	stateLastFullSync = "last_full_sync"
)

// SyncManager runs bidirectional sync cycles: the outbox is pushed first,
// then server state is pulled and applied with the server winning every
// conflict. Push-before-pull is the ordering contract that keeps local
// edits from being overwritten before they reach the server.
type SyncManager struct {
	store *Store
	api   RemoteAPI
	proc  *Processor
	log   *DebugLogger

	mu      sync.Mutex
	syncing bool
	abort   atomic.Bool
}

// NewSyncManager creates a sync manager over the given store, backend, and
// queue processor.
func NewSyncManager(store *Store, api RemoteAPI, proc *Processor, log *DebugLogger) *SyncManager {
	return &SyncManager{store: store, api: api, proc: proc, log: log}
}

// Sync runs one sync cycle. Only one cycle runs at a time; a concurrent
// call returns ErrSyncInProgress. User-scoped pulls require a session
// context (SetSessionContext); without one only the shared catalog tables
// are pulled. Cancellation and Abort are honored between pull units.
func (m *SyncManager) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	m.syncing = true
	m.abort.Store(false)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	if opts.Direction == "" {
		opts.Direction = SyncBoth
	}

	result := &SyncResult{Direction: opts.Direction, StartedAt: time.Now().UTC()}
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	m.log.LogSync("start", string(opts.Direction))

	if opts.Direction == SyncPush || opts.Direction == SyncBoth {
		if err := m.push(ctx, result); err != nil {
			return result, err
		}
	}

	if opts.Direction == SyncPull || opts.Direction == SyncBoth {
		if err := m.pull(ctx, result); err != nil {
			return result, err
		}
	}

	// Confirmed deletions are safe to destroy only once the cycle is done.
	if _, err := m.store.PurgeSyncedDeletes(); err != nil {
		return result, err
	}

	if opts.Direction == SyncBoth && !result.Aborted {
		now := time.Now().UTC()
		if err := m.store.SetState(stateLastFullSync, now.Format(time.RFC3339)); err != nil {
			return result, err
		}
	}

	m.log.LogSync("done", fmt.Sprintf("pushed=%d pulled=%d failed=%d aborted=%v",
		result.Pushed, result.Pulled, result.Failed, result.Aborted))
	return result, nil
}

func (m *SyncManager) push(ctx context.Context, result *SyncResult) error {
	pr, err := m.proc.ProcessQueue(ctx)
	if err != nil {
		if pr != nil {
			result.Pushed += pr.Processed - pr.Failed
			result.Failed += pr.Failed
		}
		return err
	}
	result.Pushed += pr.Processed - pr.Failed
	result.Failed += pr.Failed
	m.log.LogSync("push", fmt.Sprintf("processed=%d failed=%d excluded=%d skipped=%d",
		pr.Processed, pr.Failed, pr.Excluded, pr.Skipped))
	return nil
}

// pullUnit is one discrete pull step: fetch a table's server rows and apply
// them locally. Cancellation is checked between units, never inside one.
type pullUnit struct {
	table string
	run   func(ctx context.Context, at time.Time) (int, error)
}

func (m *SyncManager) pull(ctx context.Context, result *SyncResult) error {
	userID, err := m.store.State(stateUserID)
	if err != nil {
		return err
	}

	units := m.catalogUnits()
	if userID != "" {
		units = append(units, m.userUnits(userID)...)
	}

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			return err
		}
		if m.abort.Load() {
			result.Aborted = true
			m.log.LogSync("pull", "aborted before "+u.table)
			return nil
		}

		at := time.Now().UTC()
		n, err := u.run(ctx, at)
		if err != nil {
			return fmt.Errorf("sync: pull %s: %w", u.table, err)
		}
		result.Pulled += n

		// The watermark advances only when nothing queued still references
		// the table; otherwise the next cycle must revisit it.
		outstanding, err := m.store.OutstandingOperations(u.table)
		if err != nil {
			return err
		}
		if outstanding == 0 {
			if err := m.store.SetLastSync(u.table, at); err != nil {
				return err
			}
		}
		m.log.LogSync("pull", fmt.Sprintf("%s: %d rows, %d outstanding", u.table, n, outstanding))
	}
	return nil
}

// catalogUnits pulls the shared reference tables every device mirrors.
func (m *SyncManager) catalogUnits() []pullUnit {
	return []pullUnit{
		{TableFestivals, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListFestivals(ctx)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyFestivals(rows, at)
		}},
		{TableTents, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListTents(ctx)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyTents(rows, at)
		}},
		{TableTentPrices, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListTentPrices(ctx)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyTentPrices(rows, at)
		}},
		{TableAchievements, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListAchievements(ctx)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyAchievements(rows, at)
		}},
	}
}

// userUnits pulls the tables scoped to the signed-in user, parents before
// children. Consumptions and beer pictures originate on this device and
// are push-only: pulling them could resurrect a soft delete whose DELETE
// push has not confirmed yet.
func (m *SyncManager) userUnits(userID string) []pullUnit {
	return []pullUnit{
		{TableProfiles, func(ctx context.Context, at time.Time) (int, error) {
			p, err := m.api.GetProfile(ctx, userID)
			if err != nil {
				return 0, err
			}
			return 1, m.store.ApplyProfiles([]Profile{*p}, at)
		}},
		{TableAttendances, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListAttendances(ctx, userID)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyAttendances(rows, at)
		}},
		{TableGroups, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListGroups(ctx, userID)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyGroups(rows, at)
		}},
		{TableGroupMembers, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListGroupMembers(ctx, userID)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyGroupMembers(rows, at)
		}},
		{TableUserAchievements, func(ctx context.Context, at time.Time) (int, error) {
			rows, err := m.api.ListUserAchievements(ctx, userID)
			if err != nil {
				return 0, err
			}
			return len(rows), m.store.ApplyUserAchievements(rows, at)
		}},
	}
}

// Abort requests a cooperative stop of the in-flight cycle. The current
// pull unit finishes; subsequent units are skipped. A cycle aborted mid-pull
// leaves already-applied tables in place, which is safe because every
// applied unit is internally consistent.
func (m *SyncManager) Abort() {
	m.abort.Store(true)
}

// Syncing reports whether a cycle is in flight.
func (m *SyncManager) Syncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// Status returns a point-in-time view of sync health.
func (m *SyncManager) Status() (*SyncStatus, error) {
	counts, err := m.store.QueueCounts()
	if err != nil {
		return nil, err
	}
	dirty, err := m.store.DirtyCount()
	if err != nil {
		return nil, err
	}

	status := &SyncStatus{
		PendingOperations: counts[StatusPending] + counts[StatusProcessing],
		FailedOperations:  counts[StatusFailed],
		DirtyRecords:      dirty,
	}

	raw, err := m.store.State(stateLastFullSync)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			status.LastSyncAt = &t
		}
	}
	return status, nil
}
