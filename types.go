package prostlog

import "time"

// Offline carries the local sync control fields mixed into every mirrored row.
type Offline struct {
	SyncedAt *time.Time `json:"-"`
	Deleted  bool       `json:"-"`
	Dirty    bool       `json:"-"`
}

// Synced reports whether the row has ever been confirmed by the server.
func (o Offline) Synced() bool { return o.SyncedAt != nil }

// Festival represents a multi-day festival mirrored from the server.
type Festival struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	MapURL    string    `json:"map_url,omitempty"`
	Offline
}

// Tent represents a festival tent.
type Tent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Offline
}

// TentPrice is a per-festival price override for a tent.
type TentPrice struct {
	FestivalID string  `json:"festival_id"`
	TentID     string  `json:"tent_id"`
	BeerPrice  float64 `json:"beer_price"`
	Offline
}

// Profile represents a user profile.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Offline
}

// Attendance records one user's presence at a festival on one day.
// Unique per (user, festival, date).
type Attendance struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	FestivalID string `json:"festival_id"`
	Date       string `json:"date"` // YYYY-MM-DD
	TentID     string `json:"tent_id,omitempty"`
	Note       string `json:"note,omitempty"`
	Offline
}

// DrinkType classifies a logged drink.
type DrinkType string

const (
	DrinkBeer      DrinkType = "beer"
	DrinkRadler    DrinkType = "radler"
	DrinkWeissbier DrinkType = "weissbier"
	DrinkWine      DrinkType = "wine"
	DrinkSoftDrink DrinkType = "soft_drink"
	DrinkOther     DrinkType = "other"
)

// ValidDrinkTypes returns all accepted drink types.
func ValidDrinkTypes() []DrinkType {
	return []DrinkType{DrinkBeer, DrinkRadler, DrinkWeissbier, DrinkWine, DrinkSoftDrink, DrinkOther}
}

// IsValid checks if the drink type is accepted.
func (d DrinkType) IsValid() bool {
	for _, valid := range ValidDrinkTypes() {
		if d == valid {
			return true
		}
	}
	return false
}

// Consumption is one logged drink tied to an attendance.
type Consumption struct {
	ID             string    `json:"id"`
	AttendanceID   string    `json:"attendance_id"`
	UserID         string    `json:"user_id"`
	FestivalID     string    `json:"festival_id"`
	Date           string    `json:"date"` // YYYY-MM-DD
	TentID         string    `json:"tent_id,omitempty"`
	DrinkType      DrinkType `json:"drink_type"`
	VolumeML       int       `json:"volume_ml"`
	IdempotencyKey string    `json:"idempotency_key"`
	RecordedAt     time.Time `json:"recorded_at"`
	Offline
}

// BeerPicture is photo metadata tied to an attendance. Exactly one of
// {PictureURL set, PendingUpload with LocalURI set} holds at any time.
type BeerPicture struct {
	ID           string    `json:"id"`
	AttendanceID string    `json:"attendance_id"`
	UserID       string    `json:"user_id"`
	PictureURL   string    `json:"picture_url,omitempty"`
	TakenAt      time.Time `json:"taken_at"`
	PendingUpload bool     `json:"-"`
	LocalURI      string   `json:"-"`
	Offline
}

// Group is a social group of users.
type Group struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	InviteCode string `json:"invite_code,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	Offline
}

// GroupMember is a user's membership in a group.
type GroupMember struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	Offline
}

// Achievement is a server-defined achievement.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Threshold   int    `json:"threshold,omitempty"`
	Offline
}

// UserAchievement records an achievement unlocked by a user.
type UserAchievement struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	FestivalID    string    `json:"festival_id,omitempty"`
	UnlockedAt    time.Time `json:"unlocked_at"`
	Offline
}

// Operation classifies a queued mutation.
type Operation string

const (
	OpInsert     Operation = "INSERT"
	OpUpdate     Operation = "UPDATE"
	OpDelete     Operation = "DELETE"
	OpUploadFile Operation = "UPLOAD_FILE"
)

// IsValid checks if the operation is a known queue operation.
func (o Operation) IsValid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete, OpUploadFile:
		return true
	}
	return false
}

// QueueStatus is the lifecycle state of a queue item.
// Transitions are strictly pending → processing → {completed | failed}.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// QueueItem is one durable outbox entry.
type QueueItem struct {
	ID             string      `json:"id"`
	Operation      Operation   `json:"operation"`
	TableName      string      `json:"table_name"`
	RecordID       string      `json:"record_id"`
	Payload        []byte      `json:"payload"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	DependsOn      string      `json:"depends_on,omitempty"`
	Status         QueueStatus `json:"status"`
	RetryCount     int         `json:"retry_count"`
	LastError      string      `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// SyncDirection selects which phases a sync cycle runs.
type SyncDirection string

const (
	SyncPull SyncDirection = "pull"
	SyncPush SyncDirection = "push"
	SyncBoth SyncDirection = "both"
)

// SyncOptions configures one sync cycle.
type SyncOptions struct {
	// Direction defaults to SyncBoth.
	Direction SyncDirection
}

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	Direction SyncDirection `json:"direction"`
	Pulled    int           `json:"pulled"`
	Pushed    int           `json:"pushed"`
	Failed    int           `json:"failed"`
	Aborted   bool          `json:"aborted"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// SyncStatus is a point-in-time read of sync health for UI display.
type SyncStatus struct {
	PendingOperations int        `json:"pending_operations"`
	FailedOperations  int        `json:"failed_operations"`
	DirtyRecords      int        `json:"dirty_records"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}

// OperationError describes one failed queue operation within a pass.
type OperationError struct {
	OperationID string `json:"operation_id"`
	TableName   string `json:"table_name"`
	Error       string `json:"error"`
}

// ProcessResult summarizes one queue processor pass.
type ProcessResult struct {
	// Processed counts items whose handler was invoked.
	Processed int `json:"processed"`
	// Failed counts failed items: handler invocations that returned an
	// error, plus items with no registered handler.
	Failed int `json:"failed"`
	// Excluded counts items dropped from the pass because their dependency
	// has not completed.
	Excluded int `json:"excluded"`
	// Skipped counts items past the retry ceiling whose handler was not invoked.
	Skipped int `json:"skipped"`
	Errors  []OperationError `json:"errors,omitempty"`
}

// TableStats holds per-table row counts.
type TableStats struct {
	Live  int `json:"live"`
	Dirty int `json:"dirty"`
}

// StoreStats contains statistics about the local store.
type StoreStats struct {
	Tables            map[string]TableStats `json:"tables"`
	PendingOperations int                   `json:"pending_operations"`
	FailedOperations  int                   `json:"failed_operations"`
	LastSyncAt        *time.Time            `json:"last_sync_at,omitempty"`
}

// PhotoQueueStats reports staged photo upload state.
type PhotoQueueStats struct {
	Total        int   `json:"total"`
	Pending      int   `json:"pending"`
	PendingBytes int64 `json:"pending_bytes"`
}

// BackgroundResult is the outcome reported to the host background scheduler.
type BackgroundResult string

const (
	BackgroundNoData  BackgroundResult = "no-data"
	BackgroundNewData BackgroundResult = "new-data"
	BackgroundFailed  BackgroundResult = "failed"
)

// Table names of the mirrored entities.
const (
	TableFestivals        = "festivals"
	TableTents            = "tents"
	TableTentPrices       = "festival_tent_prices"
	TableProfiles         = "profiles"
	TableAttendances      = "attendances"
	TableConsumptions     = "consumptions"
	TableBeerPictures     = "beer_pictures"
	TableGroups           = "groups"
	TableGroupMembers     = "group_members"
	TableAchievements     = "achievements"
	TableUserAchievements = "user_achievements"
)

// syncableTables lists mirrored tables in foreign-key dependency order.
// Reference tables come first so pulls can apply in a single forward pass.
var syncableTables = []string{
	TableFestivals,
	TableTents,
	TableTentPrices,
	TableProfiles,
	TableAttendances,
	TableConsumptions,
	TableBeerPictures,
	TableGroups,
	TableGroupMembers,
	TableAchievements,
	TableUserAchievements,
}

// SyncableTables returns the mirrored table names in dependency order.
func SyncableTables() []string {
	out := make([]string, len(syncableTables))
	copy(out, syncableTables)
	return out
}

// Default tuning values.
const (
	DefaultMaxRetries        = 5
	DefaultRetryBaseDelay    = time.Second
	DefaultRetryMaxDelay     = 60 * time.Second
	DefaultPhotoMaxDimension = 1600
	DefaultPhotoJPEGQuality  = 80
	DefaultVolumeML          = 1000
)
