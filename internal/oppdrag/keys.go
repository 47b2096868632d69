package oppdrag

import (
	"sync"
	"time"
)

// KeyClock hands out reconciliation keys. Keys have microsecond resolution,
// matching what Postgres stores, and strictly increase within a process.
type KeyClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewKeyClock returns a clock reading now; nil uses the wall clock.
func NewKeyClock(now func() time.Time) *KeyClock {
	if now == nil {
		now = time.Now
	}
	return &KeyClock{now: now}
}

// Next returns a key strictly after every key previously returned.
func (c *KeyClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
