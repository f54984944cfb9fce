package clock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Identifier kinds for NewEntityID
const (
	KindAgent = "agent"
	KindWork  = "work"
)

// NewEntityID mints a sortable identifier of the form
// <kind>-<20-digit nanoseconds>-<6 hex chars>. The zero-padded
// nanosecond instant makes string comparison agree with mint order;
// the random suffix breaks ties when two IDs land in the same instant.
func (c *Clock) NewEntityID(kind string) string {
	nano := c.NowMonotonicNS()
	return fmt.Sprintf("%s-%020d-%s", kind, nano, c.randomHex(3))
}

// NewTraceID returns a 128-bit hex trace identifier
func (c *Clock) NewTraceID() string {
	return c.randomHex(16)
}

// NewSpanID returns a 64-bit hex span identifier
func (c *Clock) NewSpanID() string {
	return c.randomHex(8)
}

// UsingFallback reports whether the random source has failed and IDs
// are being minted from the counter fallback. The span writer surfaces
// this as an id_source=fallback attribute.
func (c *Clock) UsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

// randomHex returns n bytes of cryptographic randomness as hex. When
// the random source fails it falls back to a counter seeded from the
// monotonic clock; IDs remain unique within the process, only their
// unpredictability is lost.
func (c *Clock) randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return c.fallbackHex(n)
	}
	return hex.EncodeToString(buf)
}

func (c *Clock) fallbackHex(n int) string {
	c.mu.Lock()
	if !c.fallback {
		c.fallback = true
		c.fallbackSeed = uint64(c.lastNano)
		if c.fallbackSeed == 0 {
			c.fallbackSeed = uint64(time.Now().UnixNano())
		}
	}
	seed := c.fallbackSeed
	c.mu.Unlock()

	ctr := atomic.AddUint64(&c.fallbackCtr, 1)
	buf := make([]byte, n)
	v := seed ^ (ctr * 0x9e3779b97f4a7c15)
	for i := range buf {
		buf[i] = byte(v >> (uint(i%8) * 8))
		if i%8 == 7 {
			v = v*6364136223846793005 + ctr
		}
	}
	return hex.EncodeToString(buf)
}
