// Package node implements the common per-node cooperative event loop
// (component H) and the monotonic per-node clock (component A) shared by
// the coordinator and participant state machines.
package node

import "time"

// Clock measures simulation time relative to a node's own start instant.
// Each node owns one; failure windows and timeouts are always evaluated
// against a node's own Clock, never a shared wall clock (spec §9: "Clock
// domains are per-node").
type Clock struct {
	start time.Time
}

// NewClock starts a clock at the current wall time.
func NewClock() Clock {
	return Clock{start: time.Now()}
}

// Now returns elapsed simulation time since the clock started.
func (c Clock) Now() time.Duration {
	return time.Since(c.start)
}
