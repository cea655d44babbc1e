package prostlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is the engine entry point. It owns the local store, the outbox
// processor, the sync manager, and the photo queue, and wires queued
// operations to their backend calls.
type Client struct {
	cfg    Config
	store  *Store
	api    RemoteAPI
	proc   *Processor
	sync   *SyncManager
	photos *PhotoQueue
	log    *DebugLogger

	mu       sync.Mutex
	stopAuto chan struct{}
	autoDone chan struct{}
}

// NewClient opens the local store and wires up the engine. An empty
// APIURL yields an offline-only client: mutations queue durably and Sync
// returns ErrOffline until a backend is configured.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	log, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg.DatabasePath, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	sourceID, err := ensureSourceID(store)
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}

	c := &Client{cfg: cfg, store: store, log: log}
	if !cfg.IsOffline() {
		c.api = NewHTTPAPI(cfg.APIURL, cfg.APIKey, sourceID, log)
	}

	c.proc = NewProcessor(store, log, cfg.MaxRetries)

	c.photos, err = NewPhotoQueue(store, c.api, cfg.PhotoDir(),
		cfg.PhotoMaxDimension, cfg.PhotoJPEGQuality, log)
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}

	c.registerHandlers()
	c.sync = NewSyncManager(store, c.api, c.proc, log)
	return c, nil
}

// ensureSourceID returns the persistent device identifier, minting one on
// first open. The id survives resyncs but not a destructive Reset.
func ensureSourceID(store *Store) (string, error) {
	id, err := store.State("source_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := store.SetState("source_id", id); err != nil {
		return "", err
	}
	return id, nil
}

// registerHandlers binds each queue operation type to its backend call.
func (c *Client) registerHandlers() {
	c.proc.Register(OpInsert, c.handleMutation)
	c.proc.Register(OpUpdate, c.handleMutation)
	c.proc.Register(OpDelete, c.handleMutation)
	c.proc.Register(OpUploadFile, func(ctx context.Context, item *QueueItem) error {
		if c.api == nil {
			return ErrOffline
		}
		return c.photos.HandleUpload(ctx, item)
	})
}

func (c *Client) handleMutation(ctx context.Context, item *QueueItem) error {
	if c.api == nil {
		return ErrOffline
	}

	switch item.TableName {
	case TableProfiles:
		var p Profile
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode profile payload: %w", err)
		}
		return c.api.UpdateProfile(ctx, p)

	case TableAttendances:
		switch item.Operation {
		case OpInsert, OpUpdate:
			var a Attendance
			if err := json.Unmarshal(item.Payload, &a); err != nil {
				return fmt.Errorf("decode attendance payload: %w", err)
			}
			if item.Operation == OpInsert {
				return c.api.CreateAttendance(ctx, a)
			}
			return c.api.UpdateAttendance(ctx, a)
		case OpDelete:
			return c.api.DeleteAttendance(ctx, item.RecordID)
		}

	case TableConsumptions:
		switch item.Operation {
		case OpInsert:
			var cons Consumption
			if err := json.Unmarshal(item.Payload, &cons); err != nil {
				return fmt.Errorf("decode consumption payload: %w", err)
			}
			return c.api.CreateConsumption(ctx, cons, item.IdempotencyKey)
		case OpDelete:
			return c.api.DeleteConsumption(ctx, item.RecordID)
		}

	case TableGroupMembers:
		switch item.Operation {
		case OpInsert:
			var m GroupMember
			if err := json.Unmarshal(item.Payload, &m); err != nil {
				return fmt.Errorf("decode group member payload: %w", err)
			}
			return c.api.JoinGroup(ctx, m)
		case OpDelete:
			groupID, userID, ok := strings.Cut(item.RecordID, "/")
			if !ok {
				return fmt.Errorf("malformed group member record id %q", item.RecordID)
			}
			return c.api.LeaveGroup(ctx, groupID, userID)
		}
	}

	return fmt.Errorf("%w: %s %s", ErrNoHandler, item.Operation, item.TableName)
}

// Store returns the local store.
func (c *Client) Store() *Store { return c.store }

// Photos returns the photo queue.
func (c *Client) Photos() *PhotoQueue { return c.photos }

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// SetSessionContext persists the signed-in user and active festival. The
// session scopes user pulls and background sync; it survives restarts.
func (c *Client) SetSessionContext(userID, festivalID string) error {
	if userID == "" {
		return &ValidationError{Field: "userID", Message: "must not be empty"}
	}
	if err := c.store.SetState(stateUserID, userID); err != nil {
		return err
	}
	return c.store.SetState(stateFestivalID, festivalID)
}

// SessionContext returns the persisted user and festival ids. Both are
// empty when no session has been set.
func (c *Client) SessionContext() (userID, festivalID string, err error) {
	userID, err = c.store.State(stateUserID)
	if err != nil {
		return "", "", err
	}
	festivalID, err = c.store.State(stateFestivalID)
	if err != nil {
		return "", "", err
	}
	return userID, festivalID, nil
}

// Sync runs one sync cycle. Offline clients cannot sync.
func (c *Client) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if c.api == nil {
		return nil, ErrOffline
	}
	return c.sync.Sync(ctx, opts)
}

// AbortSync requests a cooperative stop of the in-flight sync cycle.
func (c *Client) AbortSync() { c.sync.Abort() }

// ProcessQueue runs one processor pass without a pull phase.
func (c *Client) ProcessQueue(ctx context.Context) (*ProcessResult, error) {
	if c.api == nil {
		return nil, ErrOffline
	}
	return c.proc.ProcessQueue(ctx)
}

// Status returns a point-in-time view of sync health.
func (c *Client) Status() (*SyncStatus, error) {
	return c.sync.Status()
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	if c.api == nil {
		return ErrOffline
	}
	return c.api.Health(ctx)
}

// StartAutoSync launches a background ticker that runs a full sync cycle
// every cfg.SyncInterval. A no-op when the interval is zero or the client
// is offline. Cycles that collide with a manual sync are skipped.
func (c *Client) StartAutoSync() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopAuto != nil || c.cfg.SyncInterval <= 0 || c.api == nil {
		return
	}

	c.stopAuto = make(chan struct{})
	c.autoDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(c.cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SyncInterval)
				_, err := c.sync.Sync(ctx, SyncOptions{Direction: SyncBoth})
				cancel()
				if err != nil && err != ErrSyncInProgress {
					c.log.LogError("auto-sync", err)
				}
			}
		}
	}(c.stopAuto, c.autoDone)
}

// StopAutoSync stops the background ticker and waits for it to exit.
func (c *Client) StopAutoSync() {
	c.mu.Lock()
	stop, done := c.stopAuto, c.autoDone
	c.stopAuto, c.autoDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Close stops auto-sync and closes the store and logger.
func (c *Client) Close() error {
	c.StopAutoSync()
	err := c.store.Close()
	if lerr := c.log.Close(); err == nil {
		err = lerr
	}
	return err
}
