package index

import (
	"sync"
	"time"
)

// TimeLayout is the timestamp format stored in the index: UTC ISO-8601
// with microsecond precision.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Clock issues strictly increasing microsecond timestamps.
//
// The created column carries a UNIQUE index, so two entries may never
// share a creation timestamp. Wall clocks can stall within a microsecond
// (or step backwards); the clock bumps by one microsecond whenever the
// wall reading does not advance, which keeps timestamps unique and
// ordered without ever drifting far from real time.
//
// Thread-safety: safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	wall func() time.Time
}

// NewClock creates a clock backed by the system wall clock.
func NewClock() *Clock {
	return &Clock{wall: time.Now}
}

// NewClockAt creates a clock with a fixed starting instant advancing one
// microsecond per call. Used in tests for reproducible timestamps.
func NewClockAt(start time.Time) *Clock {
	c := &Clock{last: start.UTC().Truncate(time.Microsecond)}
	c.wall = func() time.Time { return c.last }
	return c
}

// Now returns the next timestamp, formatted with TimeLayout.
func (c *Clock) Now() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.wall().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t.Format(TimeLayout)
}
