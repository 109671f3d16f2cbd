// Package autosavetest provides deterministic doubles for exercising the
// autosave package: a manually advanced clock and a scripted saver.
package autosavetest

import (
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
)

// Clock is a manually advanced autosave.Clock.
//
// Timer callbacks run synchronously on the goroutine calling Advance, in
// deadline order. Callbacks may schedule new timers; those fire within the
// same Advance call if they fall due before its target time.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers []*timer
	delays []time.Duration
}

var _ autosave.Clock = &Clock{}

type timer struct {
	c       *Clock
	id      uint64
	at      time.Time
	fn      func()
	stopped bool
}

// NewClock creates a clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) autosave.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &timer{c: c, id: c.nextID, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of scheduled, unstopped timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Delays returns every duration passed to AfterFunc, in call order.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *Clock) popDueLocked(target time.Time) *timer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].id < c.timers[j].id
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	first := c.timers[0]
	if first.at.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	return first
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped {
		return false
	}
	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			t.stopped = true
			return true
		}
	}
	// already fired
	t.stopped = true
	return false
}
