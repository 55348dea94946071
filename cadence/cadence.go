// Package cadence resolves when a report schedule fires next and which
// reporting period a firing covers.
//
// Next is the single entry point for recurrence evaluation. Calendar
// cadences are evaluated in the schedule's own timezone and cron
// expressions are delegated to robfig/cron, so the grammar can change
// without touching callers.
package cadence

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/reportflow"
)

// Cadence is a recurrence rule.
type Cadence string

const (
	Daily     Cadence = "DAILY"
	Weekly    Cadence = "WEEKLY"
	Monthly   Cadence = "MONTHLY"
	Quarterly Cadence = "QUARTERLY"
	Yearly    Cadence = "YEARLY"
	Cron      Cadence = "CRON"
)

// DefaultTimezone applies when a Spec carries no timezone.
const DefaultTimezone = "Asia/Kolkata"

// Spec is the cadence-relevant snapshot of a schedule.
type Spec struct {
	Cadence  Cadence
	CronExpr string
	Timezone string

	// Hour and Minute are the wall-clock firing time of calendar cadences.
	Hour   int
	Minute int

	// Weekday is 0 (Sunday) through 6 (Saturday).
	Weekday     *int
	DayOfMonth  *int
	MonthOfYear *int
	Quarter     *int
}

// cronParser accepts 5-field expressions, an optional leading seconds
// field and descriptors such as "@daily".
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Location loads the spec's timezone.
func (s Spec) Location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, reportflow.Configf("timezone", "unknown timezone %q", tz)
	}
	return loc, nil
}

// Validate checks that every parameter the cadence needs is present and
// in range.
func Validate(s Spec) error {
	if _, err := s.Location(); err != nil {
		return err
	}
	if s.Cadence == Cron {
		if s.CronExpr == "" {
			return reportflow.Configf("cronExpr", "required for CRON cadence")
		}
		if _, err := ParseCron(s.CronExpr); err != nil {
			return reportflow.Configf("cronExpr", "invalid cron expression %q: %v", s.CronExpr, err)
		}
		return nil
	}

	if s.Hour < 0 || s.Hour > 23 {
		return reportflow.Configf("runAt.hour", "must be 0-23, got %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return reportflow.Configf("runAt.minute", "must be 0-59, got %d", s.Minute)
	}

	switch s.Cadence {
	case Daily:
		return nil
	case Weekly:
		return requireRange("weekday", s.Weekday, 0, 6)
	case Monthly:
		return requireRange("dayOfMonth", s.DayOfMonth, 1, 31)
	case Quarterly:
		if err := requireRange("quarter", s.Quarter, 1, 4); err != nil {
			return err
		}
		return requireRange("dayOfMonth", s.DayOfMonth, 1, 31)
	case Yearly:
		if err := requireRange("monthOfYear", s.MonthOfYear, 1, 12); err != nil {
			return err
		}
		return requireRange("dayOfMonth", s.DayOfMonth, 1, 31)
	case "":
		return reportflow.Configf("cadence", "required")
	default:
		return reportflow.Configf("cadence", "unsupported cadence %q", s.Cadence)
	}
}

func requireRange(field string, v *int, lo, hi int) error {
	if v == nil {
		return reportflow.Configf(field, "required")
	}
	if *v < lo || *v > hi {
		return reportflow.Configf(field, "must be %d-%d, got %d", lo, hi, *v)
	}
	return nil
}

// Resolver computes next firings. It caches parsed cron expressions and
// is safe for concurrent use.
type Resolver struct {
	mu     sync.RWMutex
	parsed map[string]cronlib.Schedule
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{parsed: make(map[string]cronlib.Schedule)}
}

var defaultResolver = NewResolver()

// Next computes the next firing of s strictly after now, using a shared
// Resolver.
func Next(s Spec, now time.Time) (time.Time, error) {
	return defaultResolver.Next(s, now)
}

// Next computes the next firing of s strictly after now. The result is
// in UTC. It is deterministic: the same spec and now always yield the
// same instant.
func (r *Resolver) Next(s Spec, now time.Time) (time.Time, error) {
	if err := Validate(s); err != nil {
		return time.Time{}, err
	}
	loc, _ := s.Location()
	local := now.In(loc)

	if s.Cadence == Cron {
		sched, err := r.schedule(s.CronExpr)
		if err != nil {
			return time.Time{}, reportflow.Configf("cronExpr", "invalid cron expression %q: %v", s.CronExpr, err)
		}
		next := sched.Next(local)
		if next.IsZero() {
			return time.Time{}, reportflow.Configf("cronExpr", "expression %q never fires", s.CronExpr)
		}
		return next.UTC(), nil
	}

	var next time.Time
	switch s.Cadence {
	case Daily:
		next = at(local.Year(), local.Month(), local.Day(), s, loc)
		for !next.After(now) {
			next = next.AddDate(0, 0, 1)
			next = at(next.Year(), next.Month(), next.Day(), s, loc)
		}
	case Weekly:
		delta := (*s.Weekday - int(local.Weekday()) + 7) % 7
		day := local.AddDate(0, 0, delta)
		next = at(day.Year(), day.Month(), day.Day(), s, loc)
		for !next.After(now) {
			day = day.AddDate(0, 0, 7)
			next = at(day.Year(), day.Month(), day.Day(), s, loc)
		}
	case Monthly:
		next = monthlyFrom(local.Year(), local.Month(), 1, now, s, loc)
	case Quarterly:
		start := time.Month((*s.Quarter-1)*3 + 1)
		next = monthlyFrom(local.Year(), start, 3, now, s, loc)
	case Yearly:
		next = monthlyFrom(local.Year(), time.Month(*s.MonthOfYear), 12, now, s, loc)
	}
	return next.UTC(), nil
}

// monthlyFrom walks forward from (year, month) in steps of stepMonths and
// returns the first firing after now. The day is clamped per month so a
// 31st anchor fires on the last day of shorter months without drifting.
func monthlyFrom(year int, month time.Month, stepMonths int, now time.Time, s Spec, loc *time.Location) time.Time {
	for {
		next := at(year, month, clampDay(year, month, *s.DayOfMonth), s, loc)
		if next.After(now) {
			return next
		}
		month += time.Month(stepMonths)
		for month > 12 {
			month -= 12
			year++
		}
	}
}

func at(year int, month time.Month, day int, s Spec, loc *time.Location) time.Time {
	return time.Date(year, month, day, s.Hour, s.Minute, 0, 0, loc)
}

func clampDay(year int, month time.Month, day int) int {
	if last := daysIn(year, month); day > last {
		return last
	}
	return day
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (r *Resolver) schedule(expr string) (cronlib.Schedule, error) {
	r.mu.RLock()
	sched, ok := r.parsed[expr]
	r.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.parsed[expr] = sched
	r.mu.Unlock()
	return sched, nil
}

// Upcoming returns the next n firings after now.
func (r *Resolver) Upcoming(s Spec, now time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cur := now
	for range n {
		next, err := r.Next(s, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

// String implements fmt.Stringer for log attributes.
func (s Spec) String() string {
	if s.Cadence == Cron {
		return fmt.Sprintf("CRON(%s) %s", s.CronExpr, s.Timezone)
	}
	return fmt.Sprintf("%s %02d:%02d %s", s.Cadence, s.Hour, s.Minute, s.Timezone)
}
