package node

import "time"

// Handler implements the per-tick step order of spec §4.3/§5: receive,
// advance state, flush deferred sends, run due tasks. Coordinator and
// participant nodes differ only in what Advance and RunTasks do.
type Handler interface {
	// Killed reports whether the node is currently crashed. When true,
	// Receive and Advance are skipped for the tick (step 1/2 of §4.3).
	Killed() bool
	// Stopped reports whether the driver asked this node to retire.
	Stopped() bool

	// Receive drains at most one message per inbound edge and dispatches
	// it against current state (step 1).
	Receive(now time.Duration)
	// Advance walks local state one step per tick per entry (step 2).
	Advance(now time.Duration)
	// FlushSends emits any deferred outbound message whose time has come,
	// or drops all of them if the node is killed (step 3).
	FlushSends(now time.Duration)
	// RunTasks executes every scripted task whose time has elapsed (step 4).
	RunTasks(now time.Duration)
}

// Run drives h at a fixed tick until h reports Stopped. Suspension happens
// only at the end-of-tick sleep (spec §5): Receive/Advance/FlushSends/
// RunTasks never block.
func Run(h Handler, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	clock := NewClock()
	for range ticker.C {
		now := clock.Now()
		if !h.Killed() {
			h.Receive(now)
			h.Advance(now)
		}
		h.FlushSends(now)
		h.RunTasks(now)
		if h.Stopped() {
			return
		}
	}
}
