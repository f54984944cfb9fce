package clock

import (
	"sync"
	"time"
)

// Clock produces monotonic timestamps and mints identifiers. A single
// process-wide instance is shared; all operations are total.
type Clock struct {
	mu       sync.Mutex
	lastNano int64

	fallback     bool
	fallbackCtr  uint64
	fallbackSeed uint64
}

var (
	defaultClock *Clock
	defaultOnce  sync.Once
)

// Default returns the process-wide clock instance
func Default() *Clock {
	defaultOnce.Do(func() {
		defaultClock = New()
	})
	return defaultClock
}

// New creates an independent clock. Tests use this to avoid sharing
// fallback state with the process-wide instance.
func New() *Clock {
	return &Clock{}
}

// NowMonotonicNS returns a nanosecond timestamp that never goes
// backwards across a single process run, even if the wall clock does.
func (c *Clock) NowMonotonicNS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= c.lastNano {
		now = c.lastNano + 1
	}
	c.lastNano = now
	return now
}

// NowWall returns the current wall-clock time in UTC, truncated to
// millisecond precision for stable ISO-8601 serialization.
func (c *Clock) NowWall() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NowWallISO8601 returns the wall-clock time formatted with
// millisecond precision.
func (c *Clock) NowWallISO8601() string {
	return c.NowWall().Format("2006-01-02T15:04:05.000Z07:00")
}
