package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/amonhq/amon/internal/errs"
)

// cronExpr is a parsed 5-field cron expression: minute, hour,
// day-of-month, month, day-of-week. Supported syntax per field is "*",
// "*/N", or a single integer; day-of-week 7 aliases Sunday (0).
type cronExpr struct {
	minutes  map[int]bool
	hours    map[int]bool
	days     map[int]bool
	months   map[int]bool
	weekdays map[int]bool
}

// maxCronSearch bounds the minute-by-minute scan to roughly one year.
const maxCronSearch = 527040

func parseCron(expr string) (*cronExpr, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, errs.New(errs.KindInvalidArguments, "cron expression needs 5 fields, got %d", len(fields))
	}

	minutes, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hours, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, err
	}
	days, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, err
	}
	months, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, err
	}
	weekdays, err := parseCronField(fields[4], 0, 7)
	if err != nil {
		return nil, err
	}
	// Day-of-week 7 is Sunday.
	if weekdays[7] {
		delete(weekdays, 7)
		weekdays[0] = true
	}

	return &cronExpr{
		minutes:  minutes,
		hours:    hours,
		days:     days,
		months:   months,
		weekdays: weekdays,
	}, nil
}

func parseCronField(field string, lo, hi int) (map[int]bool, error) {
	set := make(map[int]bool)
	switch {
	case field == "*":
		for v := lo; v <= hi; v++ {
			set[v] = true
		}
	case strings.HasPrefix(field, "*/"):
		step, err := strconv.Atoi(field[2:])
		if err != nil || step <= 0 {
			return nil, errs.New(errs.KindInvalidArguments, "invalid cron step %q", field)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	default:
		v, err := strconv.Atoi(field)
		if err != nil || v < lo || v > hi {
			return nil, errs.New(errs.KindInvalidArguments, "invalid cron field %q", field)
		}
		set[v] = true
	}
	return set, nil
}

// matches reports whether the candidate minute satisfies all five
// field sets.
func (c *cronExpr) matches(t time.Time) bool {
	return c.minutes[t.Minute()] &&
		c.hours[t.Hour()] &&
		c.days[t.Day()] &&
		c.months[int(t.Month())] &&
		c.weekdays[int(t.Weekday())]
}

// next returns the first minute-aligned time strictly after base that
// matches, scanning at most a year ahead. The bool is false when no
// minute in range matches.
func (c *cronExpr) next(base time.Time) (time.Time, bool) {
	candidate := base.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxCronSearch; i++ {
		if c.matches(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}
