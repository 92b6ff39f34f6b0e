package ics

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// allowedRuleParts is the whitelist kept by SanitizeRecurrenceRule.
var allowedRuleParts = map[string]bool{
	"FREQ":       true,
	"INTERVAL":   true,
	"COUNT":      true,
	"UNTIL":      true,
	"BYDAY":      true,
	"BYMONTHDAY": true,
	"BYMONTH":    true,
	"WKST":       true,
	"BYSETPOS":   true,
}

var validFrequencies = map[string]bool{
	"SECONDLY": true,
	"MINUTELY": true,
	"HOURLY":   true,
	"DAILY":    true,
	"WEEKLY":   true,
	"MONTHLY":  true,
	"YEARLY":   true,
}

var validWeekdays = map[string]bool{
	"MO": true, "TU": true, "WE": true, "TH": true, "FR": true, "SA": true, "SU": true,
}

// RecurrenceKind tags the two accepted recurrence input forms.
type RecurrenceKind int

const (
	RecurrenceRaw RecurrenceKind = iota
	RecurrenceStructured
)

// RecurrenceInput is a recurrence rule on its way into the codec:
// either raw text (canonical rule text, a JSON-encoded config, or free text
// with a recognizable frequency word) or an already structured config.
type RecurrenceInput struct {
	Kind   RecurrenceKind
	Text   string
	Config *RecurrenceConfig
}

// RawRecurrence wraps free-form recurrence text.
func RawRecurrence(text string) RecurrenceInput {
	return RecurrenceInput{Kind: RecurrenceRaw, Text: text}
}

// StructuredRecurrence wraps an already parsed recurrence config.
func StructuredRecurrence(cfg *RecurrenceConfig) RecurrenceInput {
	return RecurrenceInput{Kind: RecurrenceStructured, Config: cfg}
}

// RecurrenceConfig is the structured recurrence form.
type RecurrenceConfig struct {
	Frequency  string   `json:"frequency"`
	Interval   int      `json:"interval,omitempty"`
	Count      int      `json:"count,omitempty"`
	Until      string   `json:"until,omitempty"`
	ByDay      []string `json:"byDay,omitempty"`
	ByMonthDay []int    `json:"byMonthDay,omitempty"`
	ByMonth    []int    `json:"byMonth,omitempty"`
}

// NormalizeRecurrence converts any accepted recurrence input into canonical
// RRULE text. Unrecognizable input yields ""; it never fails.
func NormalizeRecurrence(in RecurrenceInput) string {
	if in.Kind == RecurrenceStructured {
		return ruleFromConfig(in.Config)
	}
	return normalizeRuleText(in.Text)
}

func normalizeRuleText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(text, "{") {
		var cfg RecurrenceConfig
		if err := json.Unmarshal([]byte(text), &cfg); err == nil {
			return ruleFromConfig(&cfg)
		}
		return ""
	}

	if strings.Contains(strings.ToUpper(text), "FREQ=") {
		return SanitizeRecurrenceRule(text)
	}

	// Free text: settle for a bare frequency keyword.
	upper := strings.ToUpper(text)
	for _, freq := range []string{"DAILY", "WEEKLY", "MONTHLY", "YEARLY"} {
		if strings.Contains(upper, freq) {
			return "FREQ=" + freq
		}
	}
	return ""
}

func ruleFromConfig(cfg *RecurrenceConfig) string {
	if cfg == nil {
		return ""
	}
	freq := strings.ToUpper(strings.TrimSpace(cfg.Frequency))
	if !validFrequencies[freq] {
		return ""
	}

	parts := []string{"FREQ=" + freq}
	if cfg.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", cfg.Interval))
	}
	if cfg.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", cfg.Count))
	}
	if cfg.Until != "" {
		if t, ok := parseUntil(cfg.Until); ok {
			parts = append(parts, "UNTIL="+t.UTC().Format("20060102T150405Z"))
		}
	}
	if days := validDayCodes(cfg.ByDay); len(days) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if monthDays := boundedInts(cfg.ByMonthDay, -31, 31); len(monthDays) > 0 {
		parts = append(parts, "BYMONTHDAY="+joinInts(monthDays))
	}
	if months := boundedInts(cfg.ByMonth, 1, 12); len(months) > 0 {
		parts = append(parts, "BYMONTH="+joinInts(months))
	}

	rule := strings.Join(parts, ";")
	if err := ValidateRecurrenceRule(rule); err != nil {
		return ""
	}
	return rule
}

// SanitizeRecurrenceRule strips junk segments out of RRULE text, keeping
// whitelisted parts in their original order. Returns "" when not even a
// frequency survives.
func SanitizeRecurrenceRule(rule string) string {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return ""
	}

	kept := make([]string, 0, 4)
	seen := make(map[string]bool)
	hasFreq := false
	for _, segment := range strings.Split(rule, ";") {
		segment = strings.TrimSpace(segment)
		eq := strings.Index(segment, "=")
		if eq <= 0 {
			continue
		}
		key := strings.ToUpper(segment[:eq])
		value := strings.ToUpper(strings.TrimSpace(segment[eq+1:]))
		if !allowedRuleParts[key] || seen[key] || value == "" {
			continue
		}
		if key == "FREQ" {
			if !validFrequencies[value] {
				continue
			}
			hasFreq = true
		}
		seen[key] = true
		kept = append(kept, key+"="+value)
	}
	if !hasFreq {
		return ""
	}

	out := strings.Join(kept, ";")
	if err := ValidateRecurrenceRule(out); err == nil {
		return out
	}

	// Some BY* segment is still broken; fall back to the bare frequency.
	for _, segment := range kept {
		if strings.HasPrefix(segment, "FREQ=") {
			if err := ValidateRecurrenceRule(segment); err == nil {
				return segment
			}
			break
		}
	}
	return ""
}

// ValidateRecurrenceRule checks rule text against the recurrence engine.
func ValidateRecurrenceRule(rule string) error {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if rule == "" {
		return fmt.Errorf("empty recurrence rule")
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return nil
}

func parseUntil(value string) (time.Time, bool) {
	for _, layout := range []string{"20060102T150405Z", "20060102", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func validDayCodes(days []string) []string {
	out := make([]string, 0, len(days))
	seen := make(map[string]bool)
	for _, day := range days {
		code := strings.ToUpper(strings.TrimSpace(day))
		if !validWeekdays[code] || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

func boundedInts(values []int, min, max int) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		if v == 0 || v < min || v > max {
			continue
		}
		out = append(out, v)
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}
