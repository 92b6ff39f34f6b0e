package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// propDateTime resolves a date/date-time property to UTC. The library
// handles UTC and IANA-zone forms; GMT-offset TZIDs like "GMT-0400" that
// some servers emit need the rescue path.
func propDateTime(prop *ical.Prop) (time.Time, error) {
	if t, err := prop.DateTime(time.UTC); err == nil {
		return t.UTC(), nil
	}

	value := prop.Value
	if strings.HasSuffix(value, "Z") {
		if t, err := time.Parse("20060102T150405Z", value); err == nil {
			return t, nil
		}
	}

	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			loc = parseGMTOffset(tzid)
		}
		if loc != nil {
			if t, err := time.ParseInLocation("20060102T150405", value, loc); err == nil {
				return t.UTC(), nil
			}
		}
	}

	if t, err := time.Parse("20060102", value); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date/time value %q", value)
}

// parseGMTOffset parses timezone strings like "GMT-0400", "GMT+0530",
// "UTC+05:30" into a fixed-offset location. Returns nil when the string is
// not an offset form.
func parseGMTOffset(tzid string) *time.Location {
	offset := tzid
	for _, prefix := range []string{"Etc/GMT", "GMT", "UTC"} {
		if strings.HasPrefix(offset, prefix) {
			offset = strings.TrimPrefix(offset, prefix)
			break
		}
	}
	if offset == "" {
		return time.UTC
	}

	sign := 1
	switch offset[0] {
	case '-':
		sign = -1
		offset = offset[1:]
	case '+':
		offset = offset[1:]
	}
	offset = strings.ReplaceAll(offset, ":", "")

	var hours, minutes int
	switch len(offset) {
	case 1, 2:
		fmt.Sscanf(offset, "%d", &hours)
	case 3:
		fmt.Sscanf(offset, "%1d%2d", &hours, &minutes)
	case 4:
		fmt.Sscanf(offset, "%2d%2d", &hours, &minutes)
	default:
		return nil
	}

	return time.FixedZone(tzid, sign*(hours*3600+minutes*60))
}
