package ics

import (
	"time"
)

// Event is the decoded form of a single VEVENT.
type Event struct {
	UID            string
	Summary        string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	AllDay         bool
	RecurrenceRule string
	Attendees      []Attendee
	Resources      []Resource
	Organizer      string
	Sequence       int
	Status         string
	Created        time.Time
	LastModified   time.Time
}

// IsRecurring reports whether the event carries a recurrence rule.
func (e *Event) IsRecurring() bool {
	return e.RecurrenceRule != ""
}

// Attendee is a person invited to an event.
type Attendee struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
	RSVP   bool   `json:"rsvp,omitempty"`
}

// Resource is a bookable resource (room, equipment, vehicle) attached to an
// event. On the wire it travels as an ATTENDEE line with CUTYPE=RESOURCE and
// X- extension parameters.
type Resource struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	Type      string `json:"type,omitempty"`
	Capacity  int    `json:"capacity,omitempty"`
	AdminName string `json:"adminName,omitempty"`
	Remarks   string `json:"remarks,omitempty"`
}
