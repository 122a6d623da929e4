package campaign

import (
	"sync"
	"time"

	"tagbot/internal/clock"
)

// Cooldown rate-limits accepted commands per operator.
type Cooldown struct {
	clock clock.Clock

	mu     sync.Mutex
	window time.Duration
	last   map[int64]time.Time
}

func NewCooldown(c clock.Clock, window time.Duration) *Cooldown {
	return &Cooldown{clock: c, window: window, last: map[int64]time.Time{}}
}

func (c *Cooldown) SetWindow(d time.Duration) {
	c.mu.Lock()
	c.window = d
	c.mu.Unlock()
}

// Reservation is a cooldown stamp taken by Reserve. Release undoes it.
type Reservation struct {
	operator int64
	stamp    time.Time
	prev     time.Time
	hadPrev  bool
}

// Reserve checks and stamps operator under one lock hold, so concurrent
// commands from the same operator cannot both pass. When blocked it
// returns the remaining wait and stamps nothing.
func (c *Cooldown) Reserve(operator int64) (Reservation, time.Duration, bool) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	last, had := c.last[operator]
	if had {
		if elapsed := now.Sub(last); elapsed < c.window {
			return Reservation{}, c.window - elapsed, false
		}
	}
	c.last[operator] = now
	return Reservation{operator: operator, stamp: now, prev: last, hadPrev: had}, 0, true
}

// Release rolls back r for a command that was not accepted. A stamp that
// has since been replaced is left alone.
func (c *Cooldown) Release(r Reservation) {
	if r.stamp.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.last[r.operator]; !ok || !cur.Equal(r.stamp) {
		return
	}
	if r.hadPrev {
		c.last[r.operator] = r.prev
	} else {
		delete(c.last, r.operator)
	}
}

// Prune drops entries older than the window and returns how many it dropped.
func (c *Cooldown) Prune() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for op, t := range c.last {
		if now.Sub(t) >= c.window {
			delete(c.last, op)
			n++
		}
	}
	return n
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
