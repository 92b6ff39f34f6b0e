package db

import (
	"encoding/json"
	"time"

	"github.com/caldsync/caldsync/internal/ics"
)

// SyncStatus represents the sync lifecycle state of a stored event.
type SyncStatus string

const (
	SyncStatusLocal     SyncStatus = "local"      // created locally, never pushed
	SyncStatusPending   SyncStatus = "pending"    // local edit awaiting push
	SyncStatusNeedsSync SyncStatus = "needs_sync" // flagged for re-push after UID alias migration
	SyncStatusSynced    SyncStatus = "synced"     // matches the remote copy
	SyncStatusError     SyncStatus = "error"      // last push or pull attempt failed
)

// ValidSyncStatuses contains all valid event sync status values.
var ValidSyncStatuses = map[SyncStatus]bool{
	SyncStatusLocal:     true,
	SyncStatusPending:   true,
	SyncStatusNeedsSync: true,
	SyncStatusSynced:    true,
	SyncStatusError:     true,
}

// IsValid returns true if the sync status is a known valid value.
func (s SyncStatus) IsValid() bool {
	return ValidSyncStatuses[s]
}

// NeedsPush returns true for statuses the push phase picks up.
func (s SyncStatus) NeedsPush() bool {
	return s == SyncStatusLocal || s == SyncStatusPending || s == SyncStatusNeedsSync
}

// ConnectionStatus represents the health of an account connection.
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// ValidConnectionStatuses contains all valid connection status values.
var ValidConnectionStatuses = map[ConnectionStatus]bool{
	ConnectionStatusConnected:    true,
	ConnectionStatusError:        true,
	ConnectionStatusDisconnected: true,
}

// IsValid returns true if the connection status is a known valid value.
func (s ConnectionStatus) IsValid() bool {
	return ValidConnectionStatuses[s]
}

// CalendarOrigin records whether a calendar was created locally or found on
// the remote server.
type CalendarOrigin string

const (
	CalendarOriginLocal  CalendarOrigin = "local"
	CalendarOriginRemote CalendarOrigin = "remote"
)

// CycleStatus is the outcome recorded for one sync cycle.
type CycleStatus string

const (
	CycleStatusSuccess CycleStatus = "success"
	CycleStatusPartial CycleStatus = "partial" // completed with per-item errors
	CycleStatusError   CycleStatus = "error"   // cycle-level failure
)

// Connection represents one account's CalDAV server configuration.
type Connection struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	Name         string           `json:"name"`
	Endpoint     string           `json:"endpoint"`
	Username     string           `json:"username"`
	Password     string           `json:"-"` // Encrypted at rest, never in JSON
	SyncInterval int              `json:"sync_interval"`
	AutoSync     bool             `json:"auto_sync"`
	Status       ConnectionStatus `json:"status"`
	LastSyncAt   *time.Time       `json:"last_sync_at"`
	LastError    string           `json:"last_error"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Calendar represents a calendar collection, local or discovered.
type Calendar struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connection_id"`
	RemoteURL    string         `json:"remote_url"` // empty for purely local calendars
	DisplayName  string         `json:"display_name"`
	Color        string         `json:"color"`
	ChangeToken  string         `json:"-"` // collection ctag from the last pull
	SyncToken    string         `json:"-"` // RFC 6578 token when the server supports it
	Enabled      bool           `json:"enabled"`
	Origin       CalendarOrigin `json:"origin"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsRemote returns true when the calendar maps to a remote collection.
func (c *Calendar) IsRemote() bool {
	return c.RemoteURL != ""
}

// Event represents a stored calendar event. Rows sharing a UID belong to one
// logical series.
type Event struct {
	ID              string     `json:"id"`
	UID             string     `json:"uid"`
	CalendarID      string     `json:"calendar_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	AllDay          bool       `json:"all_day"`
	RecurrenceRule  string     `json:"recurrence_rule"`
	IsRecurring     bool       `json:"is_recurring"`
	Attendees       string     `json:"-"` // JSON-encoded []ics.Attendee
	Resources       string     `json:"-"` // JSON-encoded []ics.Resource
	Organizer       string     `json:"organizer"`
	Sequence        int        `json:"sequence"`
	EventStatus     string     `json:"event_status"` // CONFIRMED, TENTATIVE, CANCELLED
	RemoteURL       string     `json:"remote_url"`
	ETag            string     `json:"etag"`
	RawData         string     `json:"-"` // cached wire text
	SyncStatus      SyncStatus `json:"sync_status"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt"`
	LastError       string     `json:"last_error"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AttendeeList decodes the stored attendee JSON. Invalid or empty data
// yields nil.
func (e *Event) AttendeeList() []ics.Attendee {
	if e.Attendees == "" {
		return nil
	}
	var list []ics.Attendee
	if err := json.Unmarshal([]byte(e.Attendees), &list); err != nil {
		return nil
	}
	return list
}

// SetAttendeeList stores attendees as JSON.
func (e *Event) SetAttendeeList(list []ics.Attendee) {
	e.Attendees = marshalList(list, len(list))
}

// ResourceList decodes the stored resource JSON. Invalid or empty data
// yields nil.
func (e *Event) ResourceList() []ics.Resource {
	if e.Resources == "" {
		return nil
	}
	var list []ics.Resource
	if err := json.Unmarshal([]byte(e.Resources), &list); err != nil {
		return nil
	}
	return list
}

// SetResourceList stores resources as JSON.
func (e *Event) SetResourceList(list []ics.Resource) {
	e.Resources = marshalList(list, len(list))
}

func marshalList(v interface{}, n int) string {
	if n == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// SyncLog represents a log entry for one sync cycle.
type SyncLog struct {
	ID              string      `json:"id"`
	ConnectionID    string      `json:"connection_id"`
	Status          CycleStatus `json:"status"`
	Message         string      `json:"message"`
	EventsCreated   int         `json:"events_created"`
	EventsUpdated   int         `json:"events_updated"`
	EventsDeleted   int         `json:"events_deleted"`
	EventsSkipped   int         `json:"events_skipped"`
	EventsPushed    int         `json:"events_pushed"`
	CalendarsSynced int         `json:"calendars_synced"`
	DurationMs      int64       `json:"duration_ms"`
	CreatedAt       time.Time   `json:"created_at"`
}

// MalformedObject tracks remote payloads that stayed unparseable after the
// corrective pass, kept for inspection.
type MalformedObject struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	ObjectPath   string    `json:"object_path"`
	ErrorMessage string    `json:"error_message"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// UIDAlias maps a legacy internal identifier to its canonical UID.
type UIDAlias struct {
	InternalID string    `json:"internal_id"`
	UID        string    `json:"uid"`
	CreatedAt  time.Time `json:"created_at"`
}
