package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Epoch is the fixed "now" shared by fixtures and fake clocks.
var Epoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// DefaultTimeout bounds TestContext.
const DefaultTimeout = 30 * time.Second

// TestContext returns a context cancelled when the test ends or after
// DefaultTimeout, whichever comes first.
func TestContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// FakeClock is a goroutine-safe clock that only moves when told to. Pass
// its Now method wherever a func() time.Time clock is accepted.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// WaitForChannel receives one value from ch. A closed channel counts as a
// receive of the zero value; ok is false only on timeout.
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v = <-ch:
		return v, true
	case <-timer.C:
		return v, false
	}
}
