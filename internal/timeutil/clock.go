// Package timeutil abstracts the wall clock behind an interface so the
// realtime loop and document timestamps can run against controlled time
// in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source the simulation runs against. Now stamps
// change records and saved documents; After paces the realtime loop
// between ticks.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the time package.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// After waits for d to elapse and then delivers the current time.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a manually driven clock. Time moves only through Set and
// Advance; a pending After waiter fires once the clock reaches its
// deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	ch       chan time.Time
	deadline time.Time
}

// NewMockClock returns a MockClock pinned to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to t and fires any waiter t has passed. Setting
// the clock backwards leaves pending waiters pending.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.fireLocked()
}

// Advance moves the clock forward by d and fires expired waiters.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fireLocked()
}

// After returns a channel that receives the mocked time once the clock
// has been advanced to or past now+d. A non-positive d delivers
// immediately.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &waiter{ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	if d <= 0 {
		w.ch <- c.now
		return w.ch
	}
	c.waiters = append(c.waiters, w)
	return w.ch
}

func (c *MockClock) fireLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if c.now.Before(w.deadline) {
			kept = append(kept, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = kept
}
