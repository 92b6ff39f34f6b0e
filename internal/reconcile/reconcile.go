// Package reconcile decides how a single remote calendar object merges into
// local storage. It never talks to the network; callers fetch and decode,
// reconcile decides, callers apply.
package reconcile

import (
	"fmt"
	"log"
	"strings"

	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/ics"
)

// Action is the outcome of reconciling one remote object.
type Action string

const (
	// ActionCreate inserts a new local event built from the remote object.
	ActionCreate Action = "create"
	// ActionUpdate saves the merged event over the existing local row.
	ActionUpdate Action = "update"
	// ActionSkip leaves the local row's content untouched.
	ActionSkip Action = "skip"
	// ActionDeleteRemote removes the remote object instead of importing it.
	ActionDeleteRemote Action = "delete_remote"
)

// Remote is one calendar object fetched from the server, already decoded.
type Remote struct {
	Event *ics.Event
	Href  string
	ETag  string
	Data  string // raw iCalendar text as fetched
}

// Options tune reconciliation for one calendar.
type Options struct {
	CalendarID string

	// PreserveLocalDeletes treats remote objects without a local counterpart
	// as locally deleted: they are removed remotely instead of re-imported.
	PreserveLocalDeletes bool
}

// Decision tells the caller what to do with one remote object.
type Decision struct {
	Action Action

	// Event is the row to insert (create) or save (update). Nil for skip
	// and delete decisions.
	Event *db.Event

	// RefreshETag is set on a skip when the stored etag is stale. ETag
	// carries the replacement value. Nothing else about the row changes.
	RefreshETag bool
	ETag        string

	Reason string
}

// Reconcile merges one remote object against the local event sharing its UID
// (nil when none exists). A local row with unsynced edits is never
// overwritten: at most its etag refreshes, so the next push still carries
// the local content.
func Reconcile(remote Remote, local *db.Event, opts Options) Decision {
	if local == nil {
		if opts.PreserveLocalDeletes {
			return Decision{
				Action: ActionDeleteRemote,
				Reason: "no local counterpart, honoring local delete",
			}
		}
		return Decision{
			Action: ActionCreate,
			Event:  newLocalEvent(remote, opts.CalendarID),
			Reason: "no local counterpart",
		}
	}

	if local.SyncStatus == db.SyncStatusPending {
		decision := Decision{Action: ActionSkip, Reason: "unsynced local edit"}
		if remote.ETag != "" && remote.ETag != local.ETag {
			decision.RefreshETag = true
			decision.ETag = remote.ETag
		}
		return decision
	}

	return Decision{
		Action: ActionUpdate,
		Event:  mergeRemote(local, remote),
		Reason: "remote change",
	}
}

// newLocalEvent builds a fresh local row from a remote object. The row is
// born synced: it matches the server copy by construction.
func newLocalEvent(remote Remote, calendarID string) *db.Event {
	ev := remote.Event
	row := &db.Event{
		UID:            ev.UID,
		CalendarID:     calendarID,
		Title:          ev.Summary,
		Description:    ev.Description,
		Location:       ev.Location,
		StartTime:      ev.Start,
		EndTime:        ev.End,
		AllDay:         ev.AllDay,
		RecurrenceRule: ev.RecurrenceRule,
		IsRecurring:    ev.RecurrenceRule != "",
		Organizer:      ev.Organizer,
		Sequence:       ev.Sequence,
		EventStatus:    ev.Status,
		RemoteURL:      remote.Href,
		ETag:           remote.ETag,
		RawData:        remote.Data,
		SyncStatus:     db.SyncStatusSynced,
	}
	row.SetAttendeeList(ev.Attendees)
	row.SetResourceList(ev.Resources)
	return row
}

// mergeRemote applies the remote object's fields over a copy of the local
// row. Recurrence rule, attendees, and resources pass through preservation
// checks first: servers that do not model a field return it truncated, and
// a truncated copy must not overwrite stored detail.
func mergeRemote(local *db.Event, remote Remote) *db.Event {
	ev := remote.Event
	merged := *local

	merged.Title = ev.Summary
	merged.Description = ev.Description
	merged.Location = ev.Location
	merged.StartTime = ev.Start
	merged.EndTime = ev.End
	merged.AllDay = ev.AllDay
	merged.Organizer = ev.Organizer
	merged.Sequence = ev.Sequence
	merged.EventStatus = ev.Status

	merged.RecurrenceRule = preservedRule(local.RecurrenceRule, ev.RecurrenceRule)
	merged.IsRecurring = merged.RecurrenceRule != ""
	merged.SetAttendeeList(preservedAttendees(local.AttendeeList(), ev.Attendees))
	merged.SetResourceList(preservedResources(local.ResourceList(), ev.Resources))

	merged.RemoteURL = remote.Href
	merged.ETag = remote.ETag
	merged.RawData = remote.Data
	merged.SyncStatus = db.SyncStatusSynced
	merged.LastError = ""

	return &merged
}

// preservedRule keeps the stored recurrence rule when the incoming object
// carries none.
func preservedRule(stored, incoming string) string {
	if incoming == "" && stored != "" {
		return stored
	}
	return incoming
}

// preservedAttendees keeps the stored list when the incoming one shrank or
// lost display names the stored entries carry. Membership changes at equal
// or larger size are taken as deliberate edits and accepted.
func preservedAttendees(stored, incoming []ics.Attendee) []ics.Attendee {
	if len(stored) == 0 {
		return incoming
	}
	if len(incoming) < len(stored) {
		return stored
	}

	byEmail := make(map[string]ics.Attendee, len(incoming))
	for _, a := range incoming {
		byEmail[strings.ToLower(a.Email)] = a
	}
	for _, s := range stored {
		in, ok := byEmail[strings.ToLower(s.Email)]
		if !ok {
			continue
		}
		if s.Name != "" && in.Name == "" {
			return stored
		}
	}
	return incoming
}

// preservedResources keeps the stored list when the incoming one shrank or
// a matching entry dropped capacity, administrator name, or remarks the
// stored copy has. Those travel as X- parameters most servers do not model.
func preservedResources(stored, incoming []ics.Resource) []ics.Resource {
	if len(stored) == 0 {
		return incoming
	}
	if len(incoming) < len(stored) {
		return stored
	}

	byKey := make(map[string]ics.Resource, len(incoming))
	for _, r := range incoming {
		byKey[resourceKey(r)] = r
	}
	for _, s := range stored {
		in, ok := byKey[resourceKey(s)]
		if !ok {
			continue
		}
		if s.Capacity > 0 && in.Capacity == 0 {
			return stored
		}
		if s.AdminName != "" && in.AdminName == "" {
			return stored
		}
		if s.Remarks != "" && in.Remarks == "" {
			return stored
		}
	}
	return incoming
}

func resourceKey(r ics.Resource) string {
	if r.Email != "" {
		return strings.ToLower(r.Email)
	}
	return strings.ToLower(r.Name)
}

// Store is the storage surface the series consistency pass needs. *db.DB
// satisfies it.
type Store interface {
	GetEventsByUID(uid string) ([]*db.Event, error)
	UpdateEvent(event *db.Event) error
	UpdateEventRecurrence(id, rule string, status db.SyncStatus) error
}

// EnsureSeriesConsistency re-asserts that ev's recurring flag matches its
// rule and that every stored row sharing ev's UID agrees on recurrence
// state. The rule text is authoritative; the flag is repaired to match it.
// Rows brought in line are marked pending so the change is pushed back out.
// ev itself keeps its sync status.
func EnsureSeriesConsistency(store Store, ev *db.Event) error {
	recurring := ev.RecurrenceRule != ""
	if ev.IsRecurring != recurring {
		log.Printf("Repairing recurrence flag for event %s (uid=%s)", ev.ID, ev.UID)
		ev.IsRecurring = recurring
		if err := store.UpdateEvent(ev); err != nil {
			return fmt.Errorf("failed to repair recurrence flag for event %s: %w", ev.ID, err)
		}
	}

	if ev.UID == "" {
		return nil
	}

	series, err := store.GetEventsByUID(ev.UID)
	if err != nil {
		return fmt.Errorf("failed to load series for uid %s: %w", ev.UID, err)
	}

	for _, row := range series {
		if row.ID == ev.ID {
			continue
		}
		if row.RecurrenceRule == ev.RecurrenceRule && row.IsRecurring == recurring {
			continue
		}
		log.Printf("Propagating recurrence change to event %s (uid=%s)", row.ID, row.UID)
		if err := store.UpdateEventRecurrence(row.ID, ev.RecurrenceRule, db.SyncStatusPending); err != nil {
			return fmt.Errorf("failed to propagate recurrence to event %s: %w", row.ID, err)
		}
	}

	return nil
}
