package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both 5-field and 6-field (seconds-first) cron
// expressions plus the @every/@daily descriptor forms.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

var intervalShorthand = regexp.MustCompile(`^(\d+)(s|m|h)$`)

// Trigger is a parsed schedule string:
// an `<N>{s|m|h}` interval shorthand, or a 5/6-field cron expression.
type Trigger struct {
	raw      string
	interval time.Duration
	cronExpr cron.Schedule
}

// ParseSchedule parses a schedule string: `<N>{s|m|h}` shorthand
// first, then a standard (5 or 6 field, or descriptor) cron expression.
func ParseSchedule(s string) (Trigger, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Trigger{}, fmt.Errorf("invalid-schedule: empty schedule")
	}
	if m := intervalShorthand.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Trigger{}, fmt.Errorf("invalid-schedule: %q", s)
		}
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		}
		return Trigger{raw: s, interval: time.Duration(n) * unit}, nil
	}

	parsed, err := cronParser.Parse(s)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid-schedule: %q: %w", s, err)
	}
	return Trigger{raw: s, cronExpr: parsed}, nil
}

// Next returns the next fire time strictly after now.
func (t Trigger) Next(now time.Time) time.Time {
	if t.interval > 0 {
		return now.Add(t.interval)
	}
	if t.cronExpr != nil {
		return t.cronExpr.Next(now)
	}
	return time.Time{}
}

func (t Trigger) String() string { return t.raw }
