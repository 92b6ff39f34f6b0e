package ics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRecurrenceRule(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want string
	}{
		{
			name: "clean rule passes through",
			rule: "FREQ=WEEKLY;BYDAY=MO,WE",
			want: "FREQ=WEEKLY;BYDAY=MO,WE",
		},
		{
			name: "junk segments stripped",
			rule: "FREQ=WEEKLY;BYDAY=MO,WE;SCHEDULE-STATUS=2.0;mailto:x@y.com",
			want: "FREQ=WEEKLY;BYDAY=MO,WE",
		},
		{
			name: "rrule prefix stripped",
			rule: "RRULE:FREQ=DAILY;INTERVAL=2",
			want: "FREQ=DAILY;INTERVAL=2",
		},
		{
			name: "lowercase normalized",
			rule: "freq=weekly;byday=mo,we",
			want: "FREQ=WEEKLY;BYDAY=MO,WE",
		},
		{
			name: "duplicate keys keep first",
			rule: "FREQ=DAILY;FREQ=WEEKLY;COUNT=5",
			want: "FREQ=DAILY;COUNT=5",
		},
		{
			name: "broken byday falls back to frequency",
			rule: "FREQ=WEEKLY;BYDAY=XX",
			want: "FREQ=WEEKLY",
		},
		{
			name: "no frequency recoverable",
			rule: "BYDAY=MO;COUNT=3",
			want: "",
		},
		{
			name: "invalid frequency",
			rule: "FREQ=SOMETIMES",
			want: "",
		},
		{
			name: "empty input",
			rule: "",
			want: "",
		},
		{
			name: "until and wkst kept",
			rule: "FREQ=MONTHLY;UNTIL=20250101T000000Z;WKST=MO;X-JUNK=1",
			want: "FREQ=MONTHLY;UNTIL=20250101T000000Z;WKST=MO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeRecurrenceRule(tt.rule))
		})
	}
}

func TestNormalizeRecurrence(t *testing.T) {
	tests := []struct {
		name  string
		input RecurrenceInput
		want  string
	}{
		{
			name:  "canonical text",
			input: RawRecurrence("FREQ=WEEKLY;BYDAY=MO,WE"),
			want:  "FREQ=WEEKLY;BYDAY=MO,WE",
		},
		{
			name:  "dirty text sanitized",
			input: RawRecurrence("RRULE:FREQ=DAILY;X-APPLE-SPECIAL=yes"),
			want:  "FREQ=DAILY",
		},
		{
			name:  "json config",
			input: RawRecurrence(`{"frequency":"weekly","byDay":["MO","WE"]}`),
			want:  "FREQ=WEEKLY;BYDAY=MO,WE",
		},
		{
			name:  "free text frequency keyword",
			input: RawRecurrence("repeats weekly on mondays"),
			want:  "FREQ=WEEKLY",
		},
		{
			name: "structured config",
			input: StructuredRecurrence(&RecurrenceConfig{
				Frequency: "monthly",
				Interval:  2,
				Count:     6,
			}),
			want: "FREQ=MONTHLY;INTERVAL=2;COUNT=6",
		},
		{
			name: "structured config filters invalid parts",
			input: StructuredRecurrence(&RecurrenceConfig{
				Frequency:  "weekly",
				ByDay:      []string{"MO", "XX", "mo", "FR"},
				ByMonth:    []int{1, 13, 6},
				ByMonthDay: []int{15, 0, 40},
			}),
			want: "FREQ=WEEKLY;BYDAY=MO,FR;BYMONTHDAY=15;BYMONTH=1,6",
		},
		{
			name:  "unrecognizable text",
			input: RawRecurrence("whenever we feel like it"),
			want:  "",
		},
		{
			name:  "broken json",
			input: RawRecurrence(`{"frequency":`),
			want:  "",
		},
		{
			name:  "nil structured config",
			input: StructuredRecurrence(nil),
			want:  "",
		},
		{
			name:  "empty text",
			input: RawRecurrence("  "),
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRecurrence(tt.input))
		})
	}
}

func TestValidateRecurrenceRule(t *testing.T) {
	assert.NoError(t, ValidateRecurrenceRule("FREQ=WEEKLY;BYDAY=MO,WE"))
	assert.NoError(t, ValidateRecurrenceRule("RRULE:FREQ=DAILY"))
	assert.Error(t, ValidateRecurrenceRule(""))
	assert.Error(t, ValidateRecurrenceRule("FREQ=WEEKLY;BYDAY=NOPE"))
	assert.Error(t, ValidateRecurrenceRule("not a rule"))
}

func TestNormalizeRecurrenceIdempotent(t *testing.T) {
	first := NormalizeRecurrence(RawRecurrence("FREQ=WEEKLY;BYDAY=MO,WE;SCHEDULE-STATUS=2.0"))
	second := NormalizeRecurrence(RawRecurrence(first))
	assert.Equal(t, first, second)
}
