package network

import (
	"time"

	lock "github.com/viney-shih/go-lock"

	"github.com/atomicsim/twopc/configs"
)

// FailureWindow is a [Start,End] interval, in the owning endpoint's local
// simulation time, during which a directed edge drops all traffic.
type FailureWindow struct {
	Start time.Duration
	End   time.Duration
}

func (w FailureWindow) contains(now time.Duration) bool {
	return now >= w.Start && now <= w.End
}

type edgeKey struct{ From, To int }

// edge is the FIFO queue for one ordered pair (From,To): From is the sole
// producer, To the sole consumer. The failure window list is installed
// symmetrically on both endpoints by the driver (spec §3 invariant) — since
// both endpoints read the very same list, one list per directed edge is
// enough; each side just evaluates it against its own clock.
type edge struct {
	mu       *lock.CASMutex
	messages []Message
	failures []FailureWindow
}

func newEdge() *edge {
	return &edge{mu: lock.NewCASMutex()}
}

func (e *edge) push(m Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, m)
}

// popOrDrain returns at most one queued message, unless now falls inside a
// failure window, in which case every queued message is purged and none is
// returned (spec §4.1: "all queued messages... purged before returning
// empty").
func (e *edge) popOrDrain(now time.Duration) (Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.failures {
		if w.contains(now) {
			e.messages = e.messages[:0]
			return nil, false
		}
	}
	if len(e.messages) == 0 {
		return nil, false
	}
	m := e.messages[0]
	e.messages = e.messages[1:]
	return m, true
}

// sendAllowed reports whether a send at `now` (checked at the producer's
// clock) should be dropped by a failure window.
func (e *edge) sendAllowed(now time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.failures {
		if w.contains(now) {
			return false
		}
	}
	return true
}

func (e *edge) installFailure(w FailureWindow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, w)
}

// Fabric is the directed-edge message-passing substrate shared by every
// node in the simulation (component B). Edges are wired once per pair of
// nodes at Connect time; after that, Send/Recv/InstallFailure hold the
// Fabric-level lock only to look the edge up and do their work under the
// per-edge lock, so steady-state traffic between already-connected nodes
// contends with node creation only for that lookup.
type Fabric struct {
	mu    *lock.CASMutex
	edges map[edgeKey]*edge
}

// NewFabric creates an empty channel fabric.
func NewFabric() *Fabric {
	return &Fabric{mu: lock.NewCASMutex(), edges: make(map[edgeKey]*edge)}
}

// Connect wires the two directed edges between a and b, if not already
// wired. Safe to call while other nodes' loops are already running.
func (f *Fabric) Connect(a, b int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range [2]edgeKey{{a, b}, {b, a}} {
		if _, ok := f.edges[k]; !ok {
			f.edges[k] = newEdge()
		}
	}
}

func (f *Fabric) edgeFor(from, to int) *edge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edges[edgeKey{from, to}]
}

// Send enqueues m on edge(from->to), unless a failure window installed at
// either endpoint covers `now` (the producer's clock), in which case it is
// dropped without reaching the consumer and logged as lost at info level.
func (f *Fabric) Send(from, to int, m Message, now time.Duration) {
	e := f.edgeFor(from, to)
	if e == nil {
		return
	}
	if !e.sendAllowed(now) {
		configs.TPrintf("link %d->%d down, message lost: %v", from, to, m)
		return
	}
	e.push(m)
}

// Recv is non-blocking: it returns at most one message queued on
// edge(from->to), or none if a failure window covers the consumer's `now`
// (in which case the whole queue is purged).
func (f *Fabric) Recv(from, to int, now time.Duration) (Message, bool) {
	e := f.edgeFor(from, to)
	if e == nil {
		return nil, false
	}
	return e.popOrDrain(now)
}

// InstallFailure appends one failure window on edge(from->to).
func (f *Fabric) InstallFailure(from, to int, w FailureWindow) {
	e := f.edgeFor(from, to)
	if e == nil {
		return
	}
	e.installFailure(w)
}
