package engine

import "sync/atomic"

// Clock stamps run log steps with a strictly increasing seq.
//
// A fresh Clock is created for every run, so seq values restart at 1 and the
// step order of a run never depends on wall-clock time.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
