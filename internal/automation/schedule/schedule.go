// Package schedule decides whether a cron-style trigger is due at a given minute.
//
// Expressions are parsed once into robfig/cron's bit-set representation and then
// matched minute-by-minute; nothing is re-parsed on a tick.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalid = errors.New("invalid cron expression")

// starBit mirrors robfig/cron's marker for fields written as "*" or "?".
const starBit = 1 << 63

// Standard 5-field crontab plus @daily-style descriptors. Seconds are not accepted:
// a routine fires at most once per minute.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed cron expression. The zero value never matches.
type Schedule struct {
	expr string
	spec *cron.SpecSchedule
	loc  *time.Location
}

// Parse parses expr in UTC unless the expression carries its own TZ= prefix.
func Parse(expr string) (Schedule, error) {
	return ParseIn(expr, time.UTC)
}

// ParseIn parses expr and evaluates it in loc (unless expr has a TZ=/CRON_TZ= prefix).
func ParseIn(expr string, loc *time.Location) (Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Schedule{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.HasPrefix(strings.ToLower(s), "@every") {
		return Schedule{}, fmt.Errorf("%w: %q is an interval, not a calendar schedule", ErrInvalid, expr)
	}
	if loc == nil {
		loc = time.UTC
	}
	hasTZ := strings.HasPrefix(s, "TZ=") || strings.HasPrefix(s, "CRON_TZ=")

	sched, err := parser.Parse(sundaySeven(s))
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalid, expr, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %q", ErrInvalid, expr)
	}
	if hasTZ {
		loc = spec.Location
	} else {
		spec.Location = loc
	}
	return Schedule{expr: s, spec: spec, loc: loc}, nil
}

// sundaySeven rewrites day-of-week 7 (crontab's alternate Sunday) to 0, the
// only Sunday robfig/cron accepts. Stepped items are left alone.
func sundaySeven(expr string) string {
	fields := strings.Fields(expr)
	off := 0
	if len(fields) > 0 && (strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=")) {
		off = 1
	}
	if len(fields)-off != 5 {
		return expr
	}
	var out []string
	for _, item := range strings.Split(fields[off+4], ",") {
		if strings.Contains(item, "/") {
			out = append(out, item)
			continue
		}
		lo, hi, isRange := strings.Cut(item, "-")
		switch {
		case !isRange && item == "7":
			out = append(out, "0")
		case isRange && hi == "7" && lo == "7":
			out = append(out, "0")
		case isRange && hi == "7" && lo == "0":
			out = append(out, "0-6")
		case isRange && hi == "7":
			out = append(out, lo+"-6", "0")
		default:
			out = append(out, item)
		}
	}
	fields[off+4] = strings.Join(out, ",")
	return strings.Join(fields, " ")
}

// MustParse is Parse for package-level fixtures; it panics on error.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate reports whether expr is a usable schedule.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

func (s Schedule) String() string { return s.expr }

func (s Schedule) IsZero() bool { return s.spec == nil }

func (s Schedule) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Matches reports whether the minute containing t is a cron occurrence.
func (s Schedule) Matches(t time.Time) bool {
	if s.spec == nil {
		return false
	}
	t = t.In(s.Location())
	spec := s.spec
	if 1<<uint(t.Minute())&spec.Minute == 0 {
		return false
	}
	if 1<<uint(t.Hour())&spec.Hour == 0 {
		return false
	}
	if 1<<uint(t.Month())&spec.Month == 0 {
		return false
	}
	return dayMatches(spec, t)
}

// dayMatches applies the crontab rule: when both day fields are restricted a day
// qualifies if either matches, otherwise both must match.
func dayMatches(spec *cron.SpecSchedule, t time.Time) bool {
	domMatch := 1<<uint(t.Day())&spec.Dom > 0
	dowMatch := 1<<uint(t.Weekday())&spec.Dow > 0
	if spec.Dom&starBit > 0 || spec.Dow&starBit > 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// MinuteStart truncates t to the start of its minute in the schedule's location.
func (s Schedule) MinuteStart(t time.Time) time.Time {
	t = t.In(s.Location())
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// IsDue is true iff ref falls in a matching minute and lastFired is nil or strictly
// before the start of that minute.
func (s Schedule) IsDue(ref time.Time, lastFired *time.Time) bool {
	if !s.Matches(ref) {
		return false
	}
	if lastFired == nil || lastFired.IsZero() {
		return true
	}
	return lastFired.Before(s.MinuteStart(ref))
}

// Next returns the next occurrence strictly after t (zero if none within five years).
func (s Schedule) Next(t time.Time) time.Time {
	if s.spec == nil {
		return time.Time{}
	}
	return s.spec.Next(t)
}

// IsDue parses expr and evaluates it. A malformed expression is never due.
func IsDue(expr string, ref time.Time, lastFired *time.Time) bool {
	s, err := Parse(expr)
	if err != nil {
		return false
	}
	return s.IsDue(ref, lastFired)
}
