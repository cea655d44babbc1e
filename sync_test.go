package prostlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeAPI is an in-memory RemoteAPI for sync tests. Zero-valued fields
// yield empty results; calls records the invocation order.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	festivals    []Festival
	tents        []Tent
	prices       []TentPrice
	profile      *Profile
	attendances  []Attendance
	groups       []Group
	members      []GroupMember
	achievements []Achievement
	unlocked     []UserAchievement

	failOn map[string]error
	ticket *UploadTicket
}

func (f *fakeAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failOn != nil {
		if err, ok := f.failOn[call]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAPI) ListFestivals(ctx context.Context) ([]Festival, error) {
	return f.festivals, f.record("ListFestivals")
}
func (f *fakeAPI) ListTents(ctx context.Context) ([]Tent, error) {
	return f.tents, f.record("ListTents")
}
func (f *fakeAPI) ListTentPrices(ctx context.Context) ([]TentPrice, error) {
	return f.prices, f.record("ListTentPrices")
}
func (f *fakeAPI) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if err := f.record("GetProfile"); err != nil {
		return nil, err
	}
	if f.profile == nil {
		return &Profile{ID: userID, Username: "user"}, nil
	}
	return f.profile, nil
}
func (f *fakeAPI) UpdateProfile(ctx context.Context, p Profile) error {
	return f.record("UpdateProfile")
}
func (f *fakeAPI) ListAttendances(ctx context.Context, userID string) ([]Attendance, error) {
	return f.attendances, f.record("ListAttendances")
}
func (f *fakeAPI) CreateAttendance(ctx context.Context, a Attendance) error {
	return f.record("CreateAttendance")
}
func (f *fakeAPI) UpdateAttendance(ctx context.Context, a Attendance) error {
	return f.record("UpdateAttendance")
}
func (f *fakeAPI) DeleteAttendance(ctx context.Context, id string) error {
	return f.record("DeleteAttendance")
}
func (f *fakeAPI) CreateConsumption(ctx context.Context, c Consumption, key string) error {
	return f.record("CreateConsumption")
}
func (f *fakeAPI) DeleteConsumption(ctx context.Context, id string) error {
	return f.record("DeleteConsumption")
}
func (f *fakeAPI) ListGroups(ctx context.Context, userID string) ([]Group, error) {
	return f.groups, f.record("ListGroups")
}
func (f *fakeAPI) ListGroupMembers(ctx context.Context, userID string) ([]GroupMember, error) {
	return f.members, f.record("ListGroupMembers")
}
func (f *fakeAPI) JoinGroup(ctx context.Context, m GroupMember) error {
	return f.record("JoinGroup")
}
func (f *fakeAPI) LeaveGroup(ctx context.Context, groupID, userID string) error {
	return f.record("LeaveGroup")
}
func (f *fakeAPI) ListAchievements(ctx context.Context) ([]Achievement, error) {
	return f.achievements, f.record("ListAchievements")
}
func (f *fakeAPI) ListUserAchievements(ctx context.Context, userID string) ([]UserAchievement, error) {
	return f.unlocked, f.record("ListUserAchievements")
}
func (f *fakeAPI) CreateUploadURL(ctx context.Context, pictureID, contentType string) (*UploadTicket, error) {
	if err := f.record("CreateUploadURL"); err != nil {
		return nil, err
	}
	if f.ticket == nil {
		return &UploadTicket{UploadURL: "https://storage.example/put", ObjectKey: "key"}, nil
	}
	return f.ticket, nil
}
func (f *fakeAPI) UploadObject(ctx context.Context, uploadURL, contentType string, body []byte) error {
	return f.record("UploadObject")
}
func (f *fakeAPI) ConfirmUpload(ctx context.Context, pictureID, objectKey string) (string, error) {
	if err := f.record("ConfirmUpload"); err != nil {
		return "", err
	}
	return "https://cdn.example/" + pictureID + ".jpg", nil
}
func (f *fakeAPI) Health(ctx context.Context) error {
	return f.record("Health")
}

func newTestSync(t *testing.T, api *fakeAPI) (*Store, *SyncManager) {
	t.Helper()
	store := newTestStore(t)
	proc := NewProcessor(store, nil, 0)
	proc.Register(OpInsert, func(ctx context.Context, item *QueueItem) error { return api.record("push:" + item.TableName) })
	proc.Register(OpUpdate, func(ctx context.Context, item *QueueItem) error { return api.record("push:" + item.TableName) })
	proc.Register(OpDelete, func(ctx context.Context, item *QueueItem) error { return api.record("push:" + item.TableName) })
	return store, NewSyncManager(store, api, proc, nil)
}

func TestSyncPullsCatalogWithoutSession(t *testing.T) {
	api := &fakeAPI{
		festivals: []Festival{{ID: "fest-1", Name: "Wiesn", StartDate: time.Now(), EndDate: time.Now()}},
		tents:     []Tent{{ID: "tent-1", Name: "Hofbräu"}},
	}
	store, mgr := newTestSync(t, api)

	result, err := mgr.Sync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Pulled != 2 {
		t.Errorf("expected 2 pulled, got %d", result.Pulled)
	}

	// No user-scoped calls without a session.
	for _, call := range api.callLog() {
		if call == "ListAttendances" || call == "GetProfile" {
			t.Errorf("unexpected user-scoped call %s without session", call)
		}
	}

	if _, err := store.GetFestival("fest-1"); err != nil {
		t.Errorf("festival not applied: %v", err)
	}
}

func TestSyncPullsUserTablesWithSession(t *testing.T) {
	api := &fakeAPI{
		attendances: []Attendance{},
	}
	store, mgr := newTestSync(t, api)
	if err := store.SetState(stateUserID, "user-1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	want := map[string]bool{"GetProfile": false, "ListAttendances": false, "ListGroups": false}
	for _, call := range api.callLog() {
		if _, ok := want[call]; ok {
			want[call] = true
		}
	}
	for call, seen := range want {
		if !seen {
			t.Errorf("expected user-scoped call %s", call)
		}
	}
}

func TestSyncDoesNotResurrectFailedConsumptionDelete(t *testing.T) {
	api := &fakeAPI{failOn: map[string]error{
		"push:consumptions": &RemoteError{Op: "delete consumption", StatusCode: 503, Err: errors.New("unavailable")},
	}}
	store, mgr := newTestSync(t, api)

	now := time.Now().UTC()
	if err := store.ApplyFestivals([]Festival{
		{ID: "fest-1", Name: "Wiesn", StartDate: now, EndDate: now},
	}, now); err != nil {
		t.Fatalf("ApplyFestivals: %v", err)
	}
	if err := store.ApplyAttendances([]Attendance{
		{ID: "att-1", UserID: "user-1", FestivalID: "fest-1", Date: "2026-09-20"},
	}, now); err != nil {
		t.Fatalf("ApplyAttendances: %v", err)
	}
	c, err := store.LogConsumption(Consumption{
		AttendanceID: "att-1", UserID: "user-1", FestivalID: "fest-1",
		Date: "2026-09-20", DrinkType: DrinkBeer,
	})
	if err != nil {
		t.Fatalf("LogConsumption: %v", err)
	}
	if err := store.RemoveConsumption(c.ID); err != nil {
		t.Fatalf("RemoveConsumption: %v", err)
	}
	if err := store.SetState(stateUserID, "user-1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// The DELETE push failed. Consumptions are push-only, so the pull phase
	// must leave the tombstone in place for the next cycle.
	got, err := store.GetConsumption(c.ID)
	if err != nil {
		t.Fatalf("GetConsumption: %v", err)
	}
	if !got.Deleted || !got.Dirty {
		t.Errorf("expected deleted dirty tombstone to survive the cycle, got %+v", got)
	}
}

func TestSyncPushesBeforePull(t *testing.T) {
	api := &fakeAPI{}
	store, mgr := newTestSync(t, api)
	seedAttendance(t, store)

	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	calls := api.callLog()
	pushIdx, pullIdx := -1, -1
	for i, call := range calls {
		if pushIdx == -1 && call == "push:attendances" {
			pushIdx = i
		}
		if pullIdx == -1 && call == "ListFestivals" {
			pullIdx = i
		}
	}
	if pushIdx == -1 || pullIdx == -1 {
		t.Fatalf("missing push or pull calls: %v", calls)
	}
	if pushIdx > pullIdx {
		t.Errorf("push must precede pull, got order %v", calls)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	api := &fakeAPI{}
	store, _ := newTestSync(t, api)

	release := make(chan struct{})
	started := make(chan struct{})

	// Block the pull inside ListFestivals so the first cycle stays in flight.
	blocking := &blockingAPI{fakeAPI: api, started: started, release: release}
	mgr := NewSyncManager(store, blocking, NewProcessor(store, nil, 0), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.Sync(context.Background(), SyncOptions{})
	}()

	<-started
	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != ErrSyncInProgress {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
	close(release)
	wg.Wait()

	if mgr.Syncing() {
		t.Error("manager should be idle")
	}
}

type blockingAPI struct {
	*fakeAPI
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAPI) ListFestivals(ctx context.Context) ([]Festival, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.fakeAPI.ListFestivals(ctx)
}

func TestSyncAbortStopsBetweenUnits(t *testing.T) {
	api := &fakeAPI{}
	store, _ := newTestSync(t, api)

	aborting := &abortingAPI{fakeAPI: api}
	mgr := NewSyncManager(store, aborting, NewProcessor(store, nil, 0), nil)
	aborting.mgr = mgr

	result, err := mgr.Sync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !result.Aborted {
		t.Error("expected aborted result")
	}

	// The abort landed after the first unit: no further pulls ran.
	for _, call := range api.callLog() {
		if call == "ListTents" {
			t.Error("pull continued after abort")
		}
	}
}

type abortingAPI struct {
	*fakeAPI
	mgr *SyncManager
}

func (a *abortingAPI) ListFestivals(ctx context.Context) ([]Festival, error) {
	a.mgr.Abort()
	return a.fakeAPI.ListFestivals(ctx)
}

func TestSyncRecordsPerTableWatermarks(t *testing.T) {
	api := &fakeAPI{}
	store, mgr := newTestSync(t, api)

	before := time.Now().UTC().Add(-time.Second)
	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	at, err := store.LastSync(TableFestivals)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if at == nil || at.Before(before) {
		t.Errorf("expected fresh watermark, got %v", at)
	}
}

func TestSyncWatermarkHeldBackByOutstandingOps(t *testing.T) {
	api := &fakeAPI{failOn: map[string]error{
		"push:attendances": &RemoteError{Op: "create attendance", StatusCode: 503, Err: errors.New("unavailable")},
	}}
	store, mgr := newTestSync(t, api)
	seedAttendance(t, store)
	if err := store.SetState(stateUserID, "user-1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// The attendance push failed, so its watermark must not advance.
	at, err := store.LastSync(TableAttendances)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if at != nil {
		t.Errorf("attendances watermark should be held back, got %v", at)
	}

	// Tables with nothing outstanding advance normally.
	at, err = store.LastSync(TableFestivals)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if at == nil {
		t.Error("festivals watermark should advance")
	}
}

func TestSyncPullErrorSurfaces(t *testing.T) {
	api := &fakeAPI{failOn: map[string]error{
		"ListTents": &RemoteError{Op: "list tents", StatusCode: 500, Err: errors.New("boom")},
	}}
	_, mgr := newTestSync(t, api)

	_, err := mgr.Sync(context.Background(), SyncOptions{})
	if err == nil {
		t.Fatal("expected pull error")
	}
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Errorf("expected RemoteError in chain, got %v", err)
	}
}

func TestSyncStatus(t *testing.T) {
	api := &fakeAPI{}
	store, mgr := newTestSync(t, api)
	seedAttendance(t, store)

	status, err := mgr.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PendingOperations != 1 {
		t.Errorf("expected 1 pending, got %d", status.PendingOperations)
	}
	if status.DirtyRecords != 1 {
		t.Errorf("expected 1 dirty, got %d", status.DirtyRecords)
	}
	if status.LastSyncAt != nil {
		t.Error("expected no last sync before first cycle")
	}

	if _, err := mgr.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	status, err = mgr.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LastSyncAt == nil {
		t.Error("expected last sync after full cycle")
	}
	if status.PendingOperations != 0 {
		t.Errorf("expected drained queue, got %d pending", status.PendingOperations)
	}
}

func TestSyncPushOnlySkipsPull(t *testing.T) {
	api := &fakeAPI{}
	_, mgr := newTestSync(t, api)

	if _, err := mgr.Sync(context.Background(), SyncOptions{Direction: SyncPush}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	for _, call := range api.callLog() {
		if call == "ListFestivals" {
			t.Error("push-only sync must not pull")
		}
	}
}
