package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping nonce ledger rows.
//
// Ledger ordering uses these seq values, never wall-clock timestamps, so
// audit reads are deterministic regardless of timer resolution.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the engine's single-writer design means only one goroutine
// typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
