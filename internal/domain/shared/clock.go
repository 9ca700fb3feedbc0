package shared

import (
	"sync"
	"time"

	"github.com/deutsch-portal/lernportal-hub/pkg/timeutil"
)

// Clock is the single source of "now" for domain logic. Everything that
// depends on the current day or time receives a Clock instead of calling
// time.Now directly.
type Clock interface {
	// Now returns the current instant in the portal's zone.
	Now() time.Time

	// Today returns the current calendar date in the portal's zone.
	Today() timeutil.CivilDate

	// Location returns the zone used for calendar arithmetic.
	Location() *time.Location
}

// SystemClock reads the wall clock.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a SystemClock for loc. A nil loc means Europe/Berlin.
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = timeutil.BerlinTZ
	}
	return &SystemClock{loc: loc}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Time { return time.Now().In(c.loc) }

// Today implements Clock.
func (c *SystemClock) Today() timeutil.CivilDate { return timeutil.DateOf(c.Now()) }

// Location implements Clock.
func (c *SystemClock) Location() *time.Location { return c.loc }

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixedClock creates a FixedClock pinned at t. The zone of t is used
// for calendar arithmetic.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Today implements Clock.
func (c *FixedClock) Today() timeutil.CivilDate { return timeutil.DateOf(c.Now()) }

// Location implements Clock.
func (c *FixedClock) Location() *time.Location { return c.Now().Location() }

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock by n calendar days, keeping the wall time.
func (c *FixedClock) AdvanceDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}
