// Package clock provides the monotonic, 100-microsecond-resolution
// timestamps used throughout the RTP-MIDI wire format: the RTP header's
// 32-bit timestamp field and the CK packet's 64-bit clock-sync
// timestamps are both ticks of 100us since the session's start time.
package clock

import "time"

// TickDuration is the resolution of one wire tick.
const TickDuration = 100 * time.Microsecond

// Clock measures elapsed ticks since a fixed start time.
type Clock struct {
	start time.Time
}

// New returns a Clock whose epoch is the given start time (typically
// time.Now() at session creation).
func New(start time.Time) Clock {
	return Clock{start: start}
}

// Start returns the clock's epoch.
func (c Clock) Start() time.Time { return c.start }

// Now64 returns the elapsed ticks since start, as a 64-bit value suitable
// for a CK packet's timestamp fields. It does not wrap.
func (c Clock) Now64() uint64 {
	return uint64(time.Since(c.start) / TickDuration)
}

// Now32 returns the elapsed ticks since start truncated to 32 bits,
// suitable for the RTP header's timestamp field. a 32-bit
// counter at 100us resolution wraps after approximately 119 hours;
// callers must treat it as wrapping arithmetic and never assume
// monotonicity across a wrap.
func (c Clock) Now32() uint32 {
	return uint32(c.Now64())
}
