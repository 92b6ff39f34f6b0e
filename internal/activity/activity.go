// Package activity tracks in-flight and recently finished sync cycles for
// the admin API.
package activity

import (
	"sync"
	"time"
)

// SyncActivity represents the observable state of one sync cycle.
type SyncActivity struct {
	AccountID       string     `json:"account_id"`
	ConnectionName  string     `json:"connection_name"`
	Status          string     `json:"status"` // "running", "completed", "partial", "error"
	CurrentCalendar string     `json:"current_calendar,omitempty"`
	TotalCalendars  int        `json:"total_calendars"`
	CalendarsSynced int        `json:"calendars_synced"`
	EventsProcessed int        `json:"events_processed"`
	EventsCreated   int        `json:"events_created"`
	EventsUpdated   int        `json:"events_updated"`
	EventsDeleted   int        `json:"events_deleted"`
	EventsSkipped   int        `json:"events_skipped"`
	EventsPushed    int        `json:"events_pushed"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Duration        string     `json:"duration,omitempty"`
	Message         string     `json:"message,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
}

// Tracker tracks sync cycles across all accounts.
type Tracker struct {
	mu        sync.RWMutex
	active    map[string]*SyncActivity // accountID -> activity
	recent    []*SyncActivity          // recently completed cycles, newest first
	maxRecent int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[string]*SyncActivity),
		recent:    make([]*SyncActivity, 0),
		maxRecent: 20,
	}
}

// StartCycle begins tracking a new sync cycle for an account.
func (t *Tracker) StartCycle(accountID, connectionName string, totalCalendars int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[accountID] = &SyncActivity{
		AccountID:      accountID,
		ConnectionName: connectionName,
		Status:         "running",
		TotalCalendars: totalCalendars,
		StartedAt:      time.Now(),
	}
}

// SetTotalCalendars records how many calendars the cycle will visit, once
// discovery has resolved them.
func (t *Tracker) SetTotalCalendars(accountID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if act, exists := t.active[accountID]; exists {
		act.TotalCalendars = total
	}
}

// UpdateCalendar records the calendar currently being synced.
func (t *Tracker) UpdateCalendar(accountID, calendarName string, calendarIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if act, exists := t.active[accountID]; exists {
		act.CurrentCalendar = calendarName
		act.CalendarsSynced = calendarIndex
	}
}

// IncrementProgress adds to the cycle's progress counters.
func (t *Tracker) IncrementProgress(accountID string, created, updated, deleted, skipped, pushed, processed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if act, exists := t.active[accountID]; exists {
		act.EventsCreated += created
		act.EventsUpdated += updated
		act.EventsDeleted += deleted
		act.EventsSkipped += skipped
		act.EventsPushed += pushed
		act.EventsProcessed += processed
	}
}

// FinishCycle marks a cycle as completed and moves it to the recent list.
func (t *Tracker) FinishCycle(accountID string, success bool, message string, errors []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, exists := t.active[accountID]
	if !exists {
		return
	}

	now := time.Now()
	act.CompletedAt = &now
	act.Duration = now.Sub(act.StartedAt).Round(time.Millisecond).String()
	act.Message = message
	act.Errors = errors
	act.CurrentCalendar = ""

	if success {
		if len(errors) > 0 {
			act.Status = "partial"
		} else {
			act.Status = "completed"
		}
	} else {
		act.Status = "error"
	}

	t.recent = append([]*SyncActivity{act}, t.recent...)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[:t.maxRecent]
	}

	delete(t.active, accountID)
}

// GetActive returns all currently running cycles.
func (t *Tracker) GetActive() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, 0, len(t.active))
	for _, act := range t.active {
		// Copy so callers never share the tracked struct
		c := *act
		c.Duration = time.Since(act.StartedAt).Round(time.Millisecond).String()
		result = append(result, &c)
	}
	return result
}

// GetRecent returns recently completed cycles, newest first.
func (t *Tracker) GetRecent() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, len(t.recent))
	for i, act := range t.recent {
		c := *act
		result[i] = &c
	}
	return result
}

// GetAll returns both active and recent cycles.
func (t *Tracker) GetAll() map[string]interface{} {
	return map[string]interface{}{
		"active": t.GetActive(),
		"recent": t.GetRecent(),
	}
}

// IsAccountSyncing returns true if the account has a cycle in flight.
func (t *Tracker) IsAccountSyncing(accountID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.active[accountID]
	return exists
}
