package testutil

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// FakeClock is a virtual wall clock whose Sleep returns immediately after
// advancing time by the requested duration.
//
// Hooks registered with At fire once, in offset order, as soon as virtual
// time reaches their offset. Tests use them to make artifacts appear
// "while" the code under test is waiting.
//
// Thread-safety: all methods are safe for concurrent use. Hooks run
// without the internal lock held.
type FakeClock struct {
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	sleeps []time.Duration
	hooks  []hook
}

type hook struct {
	at time.Duration
	fn func()
}

// NewFakeClock creates a clock starting at start (Epoch if zero).
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{start: start, now: start}
}

// Now returns the current virtual time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances virtual time by d and fires due hooks. It fails only if
// ctx is already done.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.sleeps = append(c.sleeps, d)
	due := c.dueLocked()
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return ctx.Err()
}

// Advance moves virtual time forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := c.dueLocked()
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

// At schedules fn to run once virtual time reaches start+offset.
func (c *FakeClock) At(offset time.Duration, fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook{at: offset, fn: fn})
	sort.SliceStable(c.hooks, func(i, j int) bool { return c.hooks[i].at < c.hooks[j].at })
	due := c.dueLocked()
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func (c *FakeClock) dueLocked() []func() {
	elapsed := c.now.Sub(c.start)
	var due []func()
	rest := c.hooks[:0]
	for _, h := range c.hooks {
		if h.at <= elapsed {
			due = append(due, h.fn)
			continue
		}
		rest = append(rest, h)
	}
	c.hooks = rest
	return due
}

// Elapsed returns virtual time since the clock was created.
func (c *FakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
