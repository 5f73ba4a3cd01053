package testfixtures

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a manually driven time source shared by services and sweeps
// under test.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewClock starts at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// NowFunc adapts the clock to the func() time.Time fields services take.
// A nil clock yields time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Today is hour:minute on the clock's current date. Booking tests use it to
// stay inside the today-or-yesterday window.
func (c *Clock) Today(hour, minute int) time.Time {
	y, m, d := c.Now().Date()
	return time.Date(y, m, d, hour, minute, 0, 0, c.Now().Location())
}

// IDGenerator hands out "prefix-1", "prefix-2", ... so assertions can name
// records before they exist.
type IDGenerator struct {
	prefix string
	next   atomic.Uint64
}

// NewIDGenerator uses "id" when prefix is empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	return g.prefix + "-" + strconv.FormatUint(g.next.Add(1), 10)
}

// NextFunc adapts the generator to the func() string fields services take.
func (g *IDGenerator) NextFunc() func() string {
	return g.Next
}
