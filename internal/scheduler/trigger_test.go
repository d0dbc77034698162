package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"30s": 30 * time.Second,
	}
	for raw, want := range cases {
		trig, err := ParseSchedule(raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", raw, err)
		}
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		got := trig.Next(now).Sub(now)
		if got != want {
			t.Fatalf("%q: expected interval %v, got %v", raw, want, got)
		}
	}
}

func TestParseScheduleCronFiveField(t *testing.T) {
	trig, err := ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	next := trig.Next(now)
	if next.Minute() != 5 {
		t.Fatalf("expected next run at minute 5, got %v", next)
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	for _, raw := range []string{"", "not-a-schedule", "99x"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for schedule %q", raw)
		}
	}
}
