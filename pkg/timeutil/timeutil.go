// Package timeutil provides timezone and calendar helpers for the portal.
// Lessons, streaks and the weekly calendar all operate on the wall clock
// of a single configured zone, Europe/Berlin by default.
package timeutil

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DefaultZone is the IANA name of the zone the portal runs in.
const DefaultZone = "Europe/Berlin"

// BerlinTZ is Europe/Berlin with DST rules. It falls back to a fixed
// CET offset only if the embedded tz database is unusable.
var BerlinTZ = mustLoad(DefaultZone, time.FixedZone("CET", 1*60*60))

func mustLoad(name string, fallback *time.Location) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// LoadLocation resolves an IANA zone name. An empty name yields BerlinTZ.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == DefaultZone {
		return BerlinTZ, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown zone %q: %w", name, err)
	}
	return loc, nil
}

// Common layouts.
const (
	// FormatDate is the ISO calendar date layout (2006-01-02).
	FormatDate = "2006-01-02"
	// FormatTime is the 24h wall clock layout (15:04).
	FormatTime = "15:04"
	// FormatDateTime combines date and wall clock.
	FormatDateTime = "2006-01-02 15:04"
	// FormatGermanDate is the German display layout (02.01.2006).
	FormatGermanDate = "02.01.2006"
)

// StartOfDay returns 00:00 of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// IsWeekend reports whether t falls on Saturday or Sunday in loc.
func IsWeekend(t time.Time, loc *time.Location) bool {
	wd := t.In(loc).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// WeekdayNameDe returns the German name of a weekday.
func WeekdayNameDe(wd time.Weekday) string {
	switch wd {
	case time.Monday:
		return "Montag"
	case time.Tuesday:
		return "Dienstag"
	case time.Wednesday:
		return "Mittwoch"
	case time.Thursday:
		return "Donnerstag"
	case time.Friday:
		return "Freitag"
	case time.Saturday:
		return "Samstag"
	case time.Sunday:
		return "Sonntag"
	default:
		return ""
	}
}

// MonthNameDe returns the German name of a month.
func MonthNameDe(m time.Month) string {
	names := []string{
		"", "Januar", "Februar", "März", "April", "Mai", "Juni",
		"Juli", "August", "September", "Oktober", "November", "Dezember",
	}
	if int(m) >= 1 && int(m) <= 12 {
		return names[m]
	}
	return ""
}
