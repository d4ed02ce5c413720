package analytics

import "time"

// EventType is the kind of a recorded event.
type EventType string

const (
	EventTypePageView EventType = "pageview"
	EventTypeClick    EventType = "click"
)

// Valid reports whether t is one of the accepted event types.
func (t EventType) Valid() bool {
	return t == EventTypePageView || t == EventTypeClick
}

// Fallback labels used when a dimension is empty.
const (
	UnknownLocation = "Unknown"
	UnknownBrowser  = "Unknown"
	DirectReferrer  = "direct"
	RootPath        = "/"
	MissingElement  = "sans-id"
)

// Session is one visitor's browsing continuity unit, keyed by the client UUID.
type Session struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	SessionID       string    `gorm:"column:session_id;uniqueIndex;not null"`
	IPHash          string    `gorm:"column:ip_hash;index;not null"`
	IP              *string   `gorm:"column:ip"`
	Country         string    `gorm:"column:country;not null"`
	City            string    `gorm:"column:city;not null"`
	Referrer        *string   `gorm:"column:referrer"`
	UserAgent       string    `gorm:"column:user_agent;type:text;not null"`
	Browser         *string   `gorm:"column:browser"`
	Device          *string   `gorm:"column:device"`
	OS              *string   `gorm:"column:os"`
	IsAuthenticated bool      `gorm:"column:is_authenticated;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;index;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (Session) TableName() string { return "analytics_sessions" }

// Event is a single pageview or click. Rows are never updated.
type Event struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"column:session_id;index;not null"`
	EventType EventType `gorm:"column:event_type;not null"`
	Path      string    `gorm:"column:path;not null"`
	ElementID *string   `gorm:"column:element_id"`
	Duration  *float64  `gorm:"column:duration"`
	Metadata  string    `gorm:"column:metadata;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;index;not null"`
}

func (Event) TableName() string { return "analytics_events" }

// PurgeMode names how a purge selected its sessions.
type PurgeMode string

const (
	PurgeModeBots             PurgeMode = "bots"
	PurgeModeAll              PurgeMode = "all"
	PurgeModeOlderThan1Month  PurgeMode = "olderThan1month"
	PurgeModeHashes           PurgeMode = "hashes"
	PurgeModeIPs              PurgeMode = "ips"
	PurgeModeOlderThan3Months PurgeMode = "olderThan3months"
)

// PurgeStatus is the lifecycle state of a purge job.
type PurgeStatus string

const (
	PurgeStatusRunning   PurgeStatus = "running"
	PurgeStatusCompleted PurgeStatus = "completed"
	PurgeStatusPartial   PurgeStatus = "partial"
)

// PurgeJob records one purge invocation and the boundary of its last
// successful batch so a failed run can be resumed.
type PurgeJob struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	Mode          PurgeMode   `gorm:"not null;index" json:"mode"`
	Cutoff        *time.Time  `json:"cutoff,omitempty"`
	Selector      string      `gorm:"type:text;not null" json:"-"`
	Status        PurgeStatus `gorm:"not null;index" json:"status"`
	Total         int         `gorm:"not null" json:"total"`
	Deleted       int         `gorm:"not null" json:"deleted"`
	Batches       int         `gorm:"not null" json:"batches"`
	LastSessionID string      `gorm:"column:last_session_id;not null" json:"lastSessionId"`
	Error         string      `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

func (PurgeJob) TableName() string { return "analytics_purge_jobs" }

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&Session{}, &Event{}, &PurgeJob{}}
}
