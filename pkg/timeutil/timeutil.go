// Package timeutil provides calendar-day arithmetic in a configurable timezone.
// Streaks are counted in the child's local days, so "same day" and "next day"
// must not depend on the server clock's zone or on DST shifts.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used for storage and transport.
const DateLayout = "2006-01-02"

// Day is a civil calendar date without a time or zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day t falls on in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("timeutil: parse day %q: %w", s, err)
	}
	return DayOf(t, time.UTC), nil
}

// MustParseDay is ParseDay for literals in tests and defaults.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats d as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// utcMidnight anchors d at UTC midnight so subtraction is exactly 24h per day.
func (d Day) utcMidnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Start returns midnight of d in loc.
func (d Day) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	return DayOf(d.utcMidnight().AddDate(0, 0, n), time.UTC)
}

// DaysSince returns the number of calendar days from earlier to d.
// The result is negative when earlier is after d.
func (d Day) DaysSince(earlier Day) int {
	return int(d.utcMidnight().Sub(earlier.utcMidnight()).Hours() / 24)
}

// Before reports whether d is strictly before other.
func (d Day) Before(other Day) bool {
	return d.DaysSince(other) < 0
}

// After reports whether d is strictly after other.
func (d Day) After(other Day) bool {
	return d.DaysSince(other) > 0
}

// LoadLocation resolves an IANA name, falling back to UTC for "" or "UTC".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return loc, nil
}
