package ics

import (
	"strconv"
	"strings"

	"github.com/emersion/go-ical"
)

// Extension parameters carried on resource attendee lines.
const (
	paramResourceType     = "X-RESOURCE-TYPE"
	paramResourceCapacity = "X-RESOURCE-CAPACITY"
	paramAdminName        = "X-ADMIN-NAME"
	paramRemarks          = "X-REMARKS"
)

// resourceTokens mark attendee names/addresses that are almost certainly
// bookable resources even when the server omits CUTYPE.
var resourceTokens = []string{
	"room", "conference", "meeting-room", "projector", "equipment", "vehicle", "resource",
}

// classifyAttendees splits raw ATTENDEE properties into people and bookable
// resources. Explicit CUTYPE wins; otherwise a NON-PARTICIPANT role combined
// with a resource-looking name or address decides. Entries are deduplicated
// by address, with the resource classification winning on conflict.
func classifyAttendees(props []ical.Prop) ([]Attendee, []Resource) {
	var attendees []Attendee
	var resources []Resource

	for _, prop := range props {
		email := stripMailto(prop.Value)
		if email == "" {
			continue
		}
		name := prop.Params.Get(ical.ParamCommonName)
		role := strings.ToUpper(prop.Params.Get(ical.ParamRole))
		cutype := strings.ToUpper(prop.Params.Get(ical.ParamCalendarUserType))

		if isResourceProp(cutype, role, name, email) {
			resources = append(resources, Resource{
				Name:      name,
				Email:     email,
				Type:      resourceType(cutype, prop.Params.Get(paramResourceType), name, email),
				Capacity:  atoiOrZero(prop.Params.Get(paramResourceCapacity)),
				AdminName: prop.Params.Get(paramAdminName),
				Remarks:   prop.Params.Get(paramRemarks),
			})
			continue
		}

		attendees = append(attendees, Attendee{
			Name:   name,
			Email:  email,
			Role:   role,
			Status: strings.ToUpper(prop.Params.Get(ical.ParamParticipationStatus)),
			RSVP:   strings.EqualFold(prop.Params.Get(ical.ParamRSVP), "TRUE"),
		})
	}

	return dedupeAttendees(attendees, resources)
}

func isResourceProp(cutype, role, name, email string) bool {
	switch cutype {
	case "RESOURCE", "ROOM":
		return true
	case "INDIVIDUAL", "GROUP", "UNKNOWN":
		return false
	}
	if role == "NON-PARTICIPANT" && looksLikeResource(name, email) {
		return true
	}
	return looksLikeResource(name, email)
}

func looksLikeResource(name, email string) bool {
	haystack := strings.ToLower(name + " " + email)
	for _, token := range resourceTokens {
		if strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}

func resourceType(cutype, explicit, name, email string) string {
	if explicit != "" {
		return strings.ToLower(explicit)
	}
	if cutype == "ROOM" {
		return "room"
	}
	haystack := strings.ToLower(name + " " + email)
	switch {
	case strings.Contains(haystack, "room") || strings.Contains(haystack, "conference"):
		return "room"
	case strings.Contains(haystack, "vehicle"):
		return "vehicle"
	default:
		return "equipment"
	}
}

// dedupeAttendees removes duplicate addresses. An address classified as a
// resource drops its attendee twin.
func dedupeAttendees(attendees []Attendee, resources []Resource) ([]Attendee, []Resource) {
	seenResource := make(map[string]bool, len(resources))
	uniqueResources := resources[:0]
	for _, r := range resources {
		key := strings.ToLower(r.Email)
		if seenResource[key] {
			continue
		}
		seenResource[key] = true
		uniqueResources = append(uniqueResources, r)
	}

	seenAttendee := make(map[string]bool, len(attendees))
	uniqueAttendees := attendees[:0]
	for _, a := range attendees {
		key := strings.ToLower(a.Email)
		if seenResource[key] || seenAttendee[key] {
			continue
		}
		seenAttendee[key] = true
		uniqueAttendees = append(uniqueAttendees, a)
	}

	return uniqueAttendees, uniqueResources
}

func attendeeProp(attendee Attendee) *ical.Prop {
	prop := ical.NewProp(ical.PropAttendee)
	prop.Value = ensureMailto(attendee.Email)
	if attendee.Name != "" {
		prop.Params.Set(ical.ParamCommonName, attendee.Name)
	}
	if attendee.Role != "" {
		prop.Params.Set(ical.ParamRole, attendee.Role)
	}
	if attendee.Status != "" {
		prop.Params.Set(ical.ParamParticipationStatus, attendee.Status)
	}
	if attendee.RSVP {
		prop.Params.Set(ical.ParamRSVP, "TRUE")
	}
	return prop
}

func resourceProp(resource Resource) *ical.Prop {
	prop := ical.NewProp(ical.PropAttendee)
	prop.Value = ensureMailto(resource.Email)
	prop.Params.Set(ical.ParamCalendarUserType, "RESOURCE")
	prop.Params.Set(ical.ParamRole, "NON-PARTICIPANT")
	if resource.Name != "" {
		prop.Params.Set(ical.ParamCommonName, resource.Name)
	}
	if resource.Type != "" {
		prop.Params.Set(paramResourceType, resource.Type)
	}
	if resource.Capacity > 0 {
		prop.Params.Set(paramResourceCapacity, strconv.Itoa(resource.Capacity))
	}
	if resource.AdminName != "" {
		prop.Params.Set(paramAdminName, resource.AdminName)
	}
	if resource.Remarks != "" {
		prop.Params.Set(paramRemarks, resource.Remarks)
	}
	return prop
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func stripMailto(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 7 && strings.EqualFold(value[:7], "mailto:") {
		value = value[7:]
	}
	return value
}

func ensureMailto(email string) string {
	if strings.Contains(email, ":") {
		return email
	}
	return "mailto:" + email
}
