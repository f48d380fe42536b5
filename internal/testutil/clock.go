package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall-clock time fixtures start at.
var Epoch = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// FixedClock is a wall clock that only moves when told to. It satisfies
// engine.Clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock reading t. A zero t reads Epoch.
func NewFixedClock(t time.Time) *FixedClock {
	if t.IsZero() {
		t = Epoch
	}
	return &FixedClock{now: t.UTC()}
}

// Now returns the current reading.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d and returns the new reading.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
