package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

var (
	ErrUnparseable = errors.New("unparseable calendar data")
	ErrEncode      = errors.New("cannot encode event")
)

const productID = "-//caldsync//Sync Engine//EN"

// Decode parses iCalendar wire text into an Event. Parsing is tolerant: if
// the first pass fails, a bounded set of corrective rewrites is applied to
// the text and parsing is retried once. Input that still cannot be parsed
// yields ErrUnparseable, never a panic.
func Decode(wire string) (*Event, error) {
	event, err := decodeOnce(wire)
	if err == nil {
		return event, nil
	}

	repaired, changed := repairWireText(wire)
	if changed {
		if event, retryErr := decodeOnce(repaired); retryErr == nil {
			return event, nil
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
}

func decodeOnce(wire string) (*Event, error) {
	dec := ical.NewDecoder(strings.NewReader(wire))
	cal, err := dec.Decode()
	if err != nil {
		return nil, err
	}

	events := cal.Events()
	if len(events) == 0 {
		return nil, errors.New("no VEVENT component")
	}

	// Prefer the base component; overrides carry RECURRENCE-ID.
	chosen := events[0]
	for _, evt := range events {
		if evt.Props.Get(ical.PropRecurrenceID) == nil {
			chosen = evt
			break
		}
	}

	return eventFromComponent(chosen), nil
}

func eventFromComponent(evt ical.Event) *Event {
	event := &Event{}

	if prop := evt.Props.Get(ical.PropUID); prop != nil {
		event.UID = prop.Value
	}
	if summary, err := evt.Props.Text(ical.PropSummary); err == nil {
		event.Summary = summary
	}
	if description, err := evt.Props.Text(ical.PropDescription); err == nil {
		event.Description = description
	}
	if location, err := evt.Props.Text(ical.PropLocation); err == nil {
		event.Location = location
	}

	if prop := evt.Props.Get(ical.PropDateTimeStart); prop != nil {
		if prop.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
			event.AllDay = true
		}
		if t, err := propDateTime(prop); err == nil {
			event.Start = t
		}
	}
	if prop := evt.Props.Get(ical.PropDateTimeEnd); prop != nil {
		if t, err := propDateTime(prop); err == nil {
			event.End = t
		}
	}
	if event.End.IsZero() && !event.Start.IsZero() {
		// RFC 5545: a missing DTEND means one day for date values and
		// zero duration for date-times.
		if event.AllDay {
			event.End = event.Start.Add(24 * time.Hour)
		} else {
			event.End = event.Start
		}
	}

	if prop := evt.Props.Get(ical.PropRecurrenceRule); prop != nil {
		event.RecurrenceRule = SanitizeRecurrenceRule(prop.Value)
	}

	event.Attendees, event.Resources = classifyAttendees(evt.Props.Values(ical.PropAttendee))

	if prop := evt.Props.Get(ical.PropOrganizer); prop != nil {
		event.Organizer = stripMailto(prop.Value)
	}
	if prop := evt.Props.Get(ical.PropSequence); prop != nil {
		if n, err := strconv.Atoi(prop.Value); err == nil {
			event.Sequence = n
		}
	}
	if prop := evt.Props.Get(ical.PropStatus); prop != nil {
		event.Status = prop.Value
	}
	if prop := evt.Props.Get(ical.PropCreated); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			event.Created = t
		}
	}
	if prop := evt.Props.Get(ical.PropLastModified); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			event.LastModified = t
		}
	}

	return event
}

// Encode serializes an Event to iCalendar wire text. Line folding, escaping
// and CRLF terminators come from the encoder; recurrence rules are validated
// before they are written.
func Encode(event *Event) (string, error) {
	if event == nil {
		return "", fmt.Errorf("%w: nil event", ErrEncode)
	}
	if event.UID == "" {
		return "", fmt.Errorf("%w: missing UID", ErrEncode)
	}
	if event.Start.IsZero() {
		return "", fmt.Errorf("%w: missing start time (UID: %s)", ErrEncode, event.UID)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.UID)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	vevent.Props.SetText(ical.PropSummary, event.Summary)
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}

	end := event.End
	if event.AllDay {
		if end.IsZero() || !end.After(event.Start) {
			end = event.Start.Add(24 * time.Hour)
		}
		vevent.Props.SetDate(ical.PropDateTimeStart, event.Start)
		vevent.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
		if !end.IsZero() {
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
		}
	}

	if event.RecurrenceRule != "" {
		rule := SanitizeRecurrenceRule(event.RecurrenceRule)
		if rule == "" {
			return "", fmt.Errorf("%w: invalid recurrence rule %q (UID: %s)", ErrEncode, event.RecurrenceRule, event.UID)
		}
		// Raw prop: SetText would escape the rule's separators.
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule
		vevent.Props.Set(prop)
	}

	if event.Organizer != "" {
		prop := ical.NewProp(ical.PropOrganizer)
		prop.Value = ensureMailto(event.Organizer)
		vevent.Props.Set(prop)
	}

	for _, attendee := range event.Attendees {
		vevent.Props.Add(attendeeProp(attendee))
	}
	for _, resource := range event.Resources {
		vevent.Props.Add(resourceProp(resource))
	}

	if event.Sequence > 0 {
		prop := ical.NewProp(ical.PropSequence)
		prop.Value = strconv.Itoa(event.Sequence)
		vevent.Props.Set(prop)
	}
	if event.Status != "" {
		vevent.Props.SetText(ical.PropStatus, event.Status)
	}
	if !event.Created.IsZero() {
		vevent.Props.SetDateTime(ical.PropCreated, event.Created.UTC())
	}
	if !event.LastModified.IsZero() {
		vevent.Props.SetDateTime(ical.PropLastModified, event.LastModified.UTC())
	}

	cal.Children = append(cal.Children, vevent.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.String(), nil
}

// ExtractUID pulls the UID property value out of wire text without a full
// decode. Returns "" when no UID line is present.
func ExtractUID(wire string) string {
	if wire == "" {
		return ""
	}

	unfolded := unfoldLines(wire)
	for _, line := range strings.Split(unfolded, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 || !strings.EqualFold(line[:3], "UID") {
			continue
		}
		rest := line[3:]
		switch rest[0] {
		case ':':
			return strings.TrimSpace(rest[1:])
		case ';':
			// Parameters before the value, e.g. UID;X-FOO=bar:value.
			if idx := strings.Index(rest, ":"); idx != -1 {
				return strings.TrimSpace(rest[idx+1:])
			}
		}
	}
	return ""
}

// unfoldLines reverses RFC 5545 line folding: a CRLF (or bare LF) followed
// by a space or tab continues the previous line.
func unfoldLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n ", "")
	s = strings.ReplaceAll(s, "\r\n\t", "")
	s = strings.ReplaceAll(s, "\n ", "")
	s = strings.ReplaceAll(s, "\n\t", "")
	return s
}

// repairWireText applies a bounded set of rewrites to text the strict parser
// rejected: stray unlabeled mailto fragments are dropped, and property
// fragments that lost their fold marker are glued back onto the line they
// broke away from. Reports whether anything changed.
func repairWireText(wire string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(wire, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	changed := false

	for _, line := range lines {
		switch {
		case line == "":
			continue
		case line[0] == ' ' || line[0] == '\t':
			// Proper folded continuation.
			out = append(out, line)
		case strings.HasPrefix(strings.ToLower(line), "mailto:"):
			changed = true
		case isPropertyHead(line):
			out = append(out, line)
		case len(out) > 0:
			out[len(out)-1] += line
			changed = true
		default:
			changed = true
		}
	}

	if !changed {
		return wire, false
	}
	return strings.Join(out, "\r\n") + "\r\n", true
}

// isPropertyHead reports whether a line starts with a plausible iCalendar
// property name (or a BEGIN/END marker).
func isPropertyHead(line string) bool {
	end := len(line)
	if idx := strings.IndexAny(line, ":;"); idx != -1 {
		end = idx
	}
	if end == 0 {
		return false
	}
	for _, r := range line[:end] {
		valid := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !valid {
			return false
		}
	}
	return true
}
