// Package dates provides calendar helpers for due-date arithmetic.
// All comparisons in the ledger are made at calendar-day granularity in a
// configured location.
package dates

import (
	"fmt"
	"time"
)

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDayOfMonth returns min(day, DaysInMonth(year, month)). Days below 1
// are raised to 1.
func ClampDayOfMonth(year int, month time.Month, day int) int {
	if day < 1 {
		return 1
	}
	if last := DaysInMonth(year, month); day > last {
		return last
	}
	return day
}

// StartOfLocalDay truncates t to midnight in loc.
func StartOfLocalDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfNextDay returns midnight of the day after t in loc.
func StartOfNextDay(t time.Time, loc *time.Location) time.Time {
	d := StartOfLocalDay(t, loc)
	return time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, d.Location())
}

// SameOrBeforeDay reports whether a falls on or before the calendar day of b.
func SameOrBeforeDay(a, b time.Time, loc *time.Location) bool {
	return !StartOfLocalDay(a, loc).After(StartOfLocalDay(b, loc))
}

// AddMonthsAnchored moves t by n months keeping its day of month, clamped
// to the length of the target month. Jan 31 + 1 month is Feb 28 (or 29).
func AddMonthsAnchored(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	first = first.AddDate(0, n, 0)
	day := ClampDayOfMonth(first.Year(), first.Month(), t.Day())
	return first.AddDate(0, 0, day-1)
}

// WithDay returns t moved to the given day of its month, clamped.
func WithDay(t time.Time, day int) time.Time {
	d := ClampDayOfMonth(t.Year(), t.Month(), day)
	return time.Date(t.Year(), t.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// StartOfMonth returns midnight of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// EndOfMonth returns the last nanosecond of t's month.
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// YearMonth formats t as "2006-01".
func YearMonth(t time.Time) string {
	return t.Format("2006-01")
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DateLayout is the calendar-day form accepted by ParseDate.
const DateLayout = "2006-01-02"

// ParseDate reads an RFC 3339 timestamp or a bare "2006-01-02" day, which
// is taken as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
