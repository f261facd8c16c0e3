package entries

import (
	"testing"

	"fieldtally/api/internal/project"
)

func TestAnswersEqualCaseAndWhitespace(t *testing.T) {
	input := &project.Input{Ref: "name", Type: project.TypeText}

	if !answersEqual("Alice", "  alice ", input) {
		t.Error("case and whitespace differences should still match")
	}
	if answersEqual("alice", "bob", input) {
		t.Error("different values should not match")
	}
}

func TestAnswersEqualEmptyStoredNeverMatches(t *testing.T) {
	input := &project.Input{Ref: "name", Type: project.TypeText}

	if answersEqual("", "", input) {
		t.Error("empty stored answer must never count as a duplicate")
	}
	if answersEqual("alice", "", input) {
		t.Error("empty stored answer must never count as a duplicate")
	}
}

func TestAnswersEqualDateTruncation(t *testing.T) {
	cases := []struct {
		name   string
		format string
		a, b   string
		want   bool
	}{
		{"full date same day different time", "dd/MM/YYYY", "2026-03-14T08:00:00.000Z", "2026-03-14T21:30:00.000Z", true},
		{"full date different day", "dd/MM/YYYY", "2026-03-14T08:00:00.000Z", "2026-03-15T08:00:00.000Z", false},
		{"month-year ignores day", "MM/YYYY", "2026-03-01T00:00:00.000Z", "2026-03-28T00:00:00.000Z", true},
		{"month-year different month", "MM/YYYY", "2026-03-01T00:00:00.000Z", "2026-04-01T00:00:00.000Z", false},
		{"day-month ignores year", "dd/MM", "2025-03-14T00:00:00.000Z", "2026-03-14T00:00:00.000Z", true},
		{"day-month different day", "dd/MM", "2026-03-14T00:00:00.000Z", "2026-03-15T00:00:00.000Z", false},
		{"malformed stored value", "dd/MM/YYYY", "2026-03-14T08:00:00.000Z", "short", false},
		{"malformed candidate value", "dd/MM/YYYY", "short", "2026-03-14T08:00:00.000Z", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := &project.Input{Ref: "visited", Type: project.TypeDate, DatetimeFormat: tc.format}
			if got := answersEqual(tc.a, tc.b, input); got != tc.want {
				t.Errorf("answersEqual(%q, %q, %s) = %v, want %v", tc.a, tc.b, tc.format, got, tc.want)
			}
		})
	}
}

func TestAnswersEqualTimeTruncation(t *testing.T) {
	cases := []struct {
		name   string
		format string
		a, b   string
		want   bool
	}{
		{"full time different date", "HH:mm:ss", "2026-03-14T08:15:30.000Z", "2026-05-01T08:15:30.000Z", true},
		{"full time different second", "HH:mm:ss", "2026-03-14T08:15:30.000Z", "2026-03-14T08:15:31.000Z", false},
		{"hour-minute ignores seconds", "HH:mm", "2026-03-14T08:15:30.000Z", "2026-03-14T08:15:59.000Z", true},
		{"hour-minute twelve hour variant", "hh:mm", "2026-03-14T08:15:30.000Z", "2026-03-14T08:15:59.000Z", true},
		{"hour-minute different minute", "HH:mm", "2026-03-14T08:15:00.000Z", "2026-03-14T08:16:00.000Z", false},
		{"minute-second ignores hour", "mm:ss", "2026-03-14T08:15:30.000Z", "2026-03-14T21:15:30.000Z", true},
		{"minute-second different second", "mm:ss", "2026-03-14T08:15:30.000Z", "2026-03-14T08:15:31.000Z", false},
		{"malformed stored value", "HH:mm:ss", "2026-03-14T08:15:30.000Z", "08:15", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := &project.Input{Ref: "seen-at", Type: project.TypeTime, DatetimeFormat: tc.format}
			if got := answersEqual(tc.a, tc.b, input); got != tc.want {
				t.Errorf("answersEqual(%q, %q, %s) = %v, want %v", tc.a, tc.b, tc.format, got, tc.want)
			}
		})
	}
}

func TestDateKey(t *testing.T) {
	value := "2026-03-14t08:15:30.000z"

	if got := dateKey(value, "dd/MM/YYYY"); got != "2026-03-14" {
		t.Errorf("dateKey dd/MM/YYYY = %q", got)
	}
	if got := dateKey(value, "YYYY/MM/dd"); got != "2026-03-14" {
		t.Errorf("dateKey YYYY/MM/dd = %q", got)
	}
	if got := dateKey(value, "MM/YYYY"); got != "2026-03" {
		t.Errorf("dateKey MM/YYYY = %q", got)
	}
	if got := dateKey(value, "dd/MM"); got != "03-14" {
		t.Errorf("dateKey dd/MM = %q", got)
	}
	if got := dateKey("short", "dd/MM/YYYY"); got != "" {
		t.Errorf("dateKey on short value = %q, want empty", got)
	}
}

func TestTimeKey(t *testing.T) {
	value := "2026-03-14t08:15:30.000z"

	if got := timeKey(value, "HH:mm:ss"); got != "08:15:30" {
		t.Errorf("timeKey HH:mm:ss = %q", got)
	}
	if got := timeKey(value, "HH:mm"); got != "08:15" {
		t.Errorf("timeKey HH:mm = %q", got)
	}
	if got := timeKey(value, "hh:mm"); got != "08:15" {
		t.Errorf("timeKey hh:mm = %q", got)
	}
	if got := timeKey(value, "mm:ss"); got != "15:30" {
		t.Errorf("timeKey mm:ss = %q", got)
	}
	if got := timeKey("2026-03-14", "HH:mm:ss"); got != "" {
		t.Errorf("timeKey on date-only value = %q, want empty", got)
	}
}
