// Package clock supplies the current time and calendar day.
package clock

import (
	"sync"
	"time"
)

// DayLayout formats a calendar day as YYYY-MM-DD.
const DayLayout = "2006-01-02"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock in a fixed location.
type System struct {
	Location *time.Location
}

// Now returns the current time in the configured location (Local when unset).
func (s System) Now() time.Time {
	if s.Location == nil {
		return time.Now()
	}
	return time.Now().In(s.Location)
}

// Day returns the calendar day of t in t's own location.
func Day(t time.Time) string {
	return t.Format(DayLayout)
}

// Today returns the calendar day reported by c.
func Today(c Clock) string {
	return Day(c.Now())
}

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock stopped at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
