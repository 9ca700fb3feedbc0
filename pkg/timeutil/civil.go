package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// CivilDate is a calendar date without a time of day or zone.
// The zero value means "no date".
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) CivilDate {
	y, m, d := t.Date()
	return CivilDate{Year: y, Month: m, Day: d}
}

// DateIn returns the calendar date of t as seen in loc.
func DateIn(t time.Time, loc *time.Location) CivilDate {
	return DateOf(t.In(loc))
}

// NewDate builds a CivilDate, normalising overflowing days and months.
func NewDate(year int, month time.Month, day int) CivilDate {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (CivilDate, error) {
	t, err := time.Parse(FormatDate, strings.TrimSpace(s))
	if err != nil {
		return CivilDate{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// IsZero reports whether d is the "no date" value.
func (d CivilDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats d as YYYY-MM-DD. The zero date formats as "".
func (d CivilDate) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In returns midnight of d in loc.
func (d CivilDate) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n calendar days.
func (d CivilDate) AddDays(n int) CivilDate {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// DaysSince returns the number of calendar days from other to d.
// It is negative when other is after d.
func (d CivilDate) DaysSince(other CivilDate) int {
	a := d.In(time.UTC)
	b := other.In(time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

// Weekday returns the day of the week of d.
func (d CivilDate) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Before reports whether d is strictly before other.
func (d CivilDate) Before(other CivilDate) bool {
	return d.DaysSince(other) < 0
}

// After reports whether d is strictly after other.
func (d CivilDate) After(other CivilDate) bool {
	return d.DaysSince(other) > 0
}

// StartOfWeek returns the Monday of d's ISO week.
func (d CivilDate) StartOfWeek() CivilDate {
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7 // Sunday
	}
	return d.AddDays(-(wd - 1))
}

// MarshalText implements encoding.TextMarshaler.
func (d CivilDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// the zero date.
func (d *CivilDate) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = CivilDate{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(FormatTime, strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("timeutil: invalid time %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String formats t as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On combines t with a date in loc.
func (t TimeOfDay) On(d CivilDate, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, 0, 0, loc)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
