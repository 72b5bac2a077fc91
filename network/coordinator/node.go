// Package coordinator implements the 2PC coordinator state machine
// (component G): vote collection, the commit/abort decision rule,
// presumed-abort recovery, and the authoritative side of the termination
// protocol.
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/network"
	"github.com/atomicsim/twopc/schedule"
	"github.com/atomicsim/twopc/storage"
)

type phase uint8

const (
	phaseCollecting phase = iota
	phaseCommit
	phaseAbort
)

// pending tracks one in-flight (or just-decided) vote: the votes received
// so far and which phase the decision rule has reached.
type pending struct {
	votes   map[int]int8 // node id -> network.VoteYes/VoteNo, absent = not yet heard
	phase   phase
	started time.Duration
	decided bool
}

// Node is the transaction coordinator (spec §4.5). By convention it runs
// as node id configs.CoordinatorID.
type Node struct {
	id      int
	peersMu sync.Mutex
	peers   []int // every participant id
	fabric  *network.Fabric
	log     *storage.Log
	tasks   *schedule.Queue
	timeout time.Duration

	// selfVotes is the coordinator's own vote response table (spec §3:
	// "the coordinator's own slot is pre-filled from its own vote response
	// table"). Unlike a participant's VoteResponse there is no delay: the
	// coordinator never round-trips a message to itself, so the vote is
	// known and folded in at the instant it opens the transaction.
	selfVotes map[uint64]uint8

	txns map[uint64]*pending

	killed int32
	stop   int32
}

// New constructs a coordinator node. peers lists every participant id.
// selfVotes supplies the coordinator's own vote for every vote_id it will
// open (spec §4.5: "the coordinator votes too").
func New(id int, fabric *network.Fabric, log *storage.Log, selfVotes map[uint64]uint8, tasks []schedule.Task, peers []int) *Node {
	return &Node{
		id:        id,
		peers:     append([]int(nil), peers...),
		fabric:    fabric,
		log:       log,
		tasks:     schedule.NewQueue(tasks),
		timeout:   configs.CoordinatorTimeout,
		selfVotes: selfVotes,
		txns:      make(map[uint64]*pending),
	}
}

// ID returns the node's identifier.
func (n *Node) ID() int { return n.id }

// AddPeer registers a participant created after this coordinator (the
// simulator wires every new node to all existing ones in both directions).
func (n *Node) AddPeer(id int) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	n.peers = append(n.peers, id)
}

func (n *Node) peerList() []int {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	return append([]int(nil), n.peers...)
}

// Killed implements node.Handler.
func (n *Node) Killed() bool { return atomic.LoadInt32(&n.killed) == 1 }

// Stopped implements node.Handler.
func (n *Node) Stopped() bool { return atomic.LoadInt32(&n.stop) == 1 }

// Stop asks the node's loop to retire at its next tick boundary.
func (n *Node) Stop() { atomic.StoreInt32(&n.stop, 1) }

func (n *Node) setKilled(v bool) {
	if v {
		atomic.StoreInt32(&n.killed, 1)
	} else {
		atomic.StoreInt32(&n.killed, 0)
	}
}

// Receive implements node.Handler step 1.
func (n *Node) Receive(now time.Duration) {
	for _, peer := range n.peerList() {
		msg, ok := n.fabric.Recv(peer, n.id, now)
		if !ok {
			continue
		}
		n.dispatch(peer, msg, now)
	}
}

func (n *Node) dispatch(from int, msg network.Message, now time.Duration) {
	switch m := msg.(type) {
	case network.Vote:
		n.onVote(m, now)
	case network.DecisionReq:
		n.onDecisionReq(m, now)
	default:
		configs.NPrintf(n.id, "ignoring unexpected message %v from %d", msg, from)
	}
}

func (n *Node) onVote(m network.Vote, now time.Duration) {
	p, ok := n.txns[m.VoteID]
	if !ok {
		configs.NPrintf(n.id, "ignoring %v: unknown vote id", m)
		return
	}
	if p.phase != phaseCollecting {
		// We already moved past collecting: ignore, the decision stands.
		return
	}
	p.votes[m.From] = int8(m.Vote)
}

// onDecisionReq answers the termination protocol authoritatively: only the
// coordinator ever does, per spec §9 (participants no-op on receipt).
func (n *Node) onDecisionReq(m network.DecisionReq, now time.Duration) {
	p, ok := n.txns[m.VoteID]
	if !ok {
		configs.NPrintf(n.id, "ignoring %v: unknown vote id", m)
		return
	}
	switch p.phase {
	case phaseCommit:
		n.fabric.Send(n.id, m.FromNode, network.Commit{VoteID: m.VoteID}, now)
	case phaseAbort:
		n.fabric.Send(n.id, m.FromNode, network.Abort{VoteID: m.VoteID}, now)
	case phaseCollecting:
		// No decision yet; the requester will simply time out again.
	}
}

// Advance implements node.Handler step 2: the decision rule runs once per
// tick per open transaction.
func (n *Node) Advance(now time.Duration) {
	for voteID, p := range n.txns {
		if p.decided {
			continue
		}
		n.evaluate(voteID, p, now)
	}
}

// evaluate applies the decision rule over the full vote vector, which
// always includes the coordinator's own pre-filled slot alongside every
// participant's (spec §3/§4.5): "votes[vote_id]" is a fixed-length vector
// across all N nodes, not just the participants.
func (n *Node) evaluate(voteID uint64, p *pending, now time.Duration) {
	if p.phase != phaseCollecting {
		return
	}
	peers := n.peerList()
	total := len(peers) + 1 // + the coordinator's own slot
	allYes := true
	heard := 0
	for _, peer := range peers {
		v, ok := p.votes[peer]
		if !ok {
			allYes = false
			continue
		}
		heard++
		if v != int8(network.VoteYes) {
			n.decide(voteID, p, phaseAbort, now)
			return
		}
	}
	if v, ok := p.votes[n.id]; ok {
		heard++
		if v != int8(network.VoteYes) {
			n.decide(voteID, p, phaseAbort, now)
			return
		}
	} else {
		allYes = false
	}
	if allYes && heard == total {
		n.decide(voteID, p, phaseCommit, now)
		return
	}
	if now > p.started+n.timeout {
		// Presumed abort: any participant we haven't heard a yes from by
		// the deadline forces an abort (spec §4.5).
		n.decide(voteID, p, phaseAbort, now)
	}
}

func (n *Node) decide(voteID uint64, p *pending, outcome phase, now time.Duration) {
	event := configs.EventAbort
	var msg network.Message = network.Abort{VoteID: voteID}
	if outcome == phaseCommit {
		event = configs.EventCommit
		msg = network.Commit{VoteID: voteID}
	}
	n.log.Append(now.Seconds(), voteID, event)
	p.phase = outcome
	p.decided = true
	configs.LPrintf("coordinator decides %s for vote %d", event, voteID)
	for _, peer := range n.peerList() {
		n.fabric.Send(n.id, peer, msg, now)
	}
}

// FlushSends implements node.Handler step 3. The coordinator has no
// deferred sends of its own: vote broadcasts and decision broadcasts are
// both emitted inline from Advance/RunTasks (spec §9), so a kill never
// drops a broadcast that was already sent. A SendVoteRequest task that fires
// while the node is killed still logs start but skips the VoteRequest
// broadcast (see openTransaction).
func (n *Node) FlushSends(now time.Duration) {}

// RunTasks implements node.Handler step 4.
func (n *Node) RunTasks(now time.Duration) {
	for _, t := range n.tasks.Due(now) {
		switch t.Kind {
		case schedule.SendVoteRequest:
			n.openTransaction(t.VoteID, now)
		case schedule.KillSelf:
			n.setKilled(true)
		case schedule.ResumeSelf:
			n.setKilled(false)
			n.Recover(now)
		}
	}
}

func (n *Node) openTransaction(voteID uint64, now time.Duration) {
	peers := n.peerList()
	n.log.Append(now.Seconds(), voteID, configs.EventStart)

	selfVote, ok := n.selfVotes[voteID]
	configs.Assert(ok, "no self vote configured for this vote id")
	p := &pending{
		votes:   make(map[int]int8, len(peers)+1),
		phase:   phaseCollecting,
		started: now,
	}
	p.votes[n.id] = int8(selfVote)
	n.txns[voteID] = p

	if n.Killed() {
		return
	}
	if selfVote != network.VoteYes {
		// Fail fast, same as a participant NO: no point broadcasting
		// VoteRequest when the coordinator's own vote already dooms it.
		n.decide(voteID, p, phaseAbort, now)
		return
	}
	for _, peer := range peers {
		n.fabric.Send(n.id, peer, network.VoteRequest{VoteID: voteID}, now)
	}
}

// Recover replays the durable log and restores in-memory transaction state
// (spec §4.5). A coordinator's recovery posture is presumed abort: any
// "start" without a later terminal decision in the log is decided (and
// re-broadcast) abort, since a coordinator crash before deciding can never
// be distinguished from one that decided abort and crashed before logging
// it.
func (n *Node) Recover(now time.Duration) {
	records, err := n.log.ReadAll()
	configs.CheckError(err)
	configs.CheckError(storage.CheckConflicts(records))
	configs.Assert(storage.HasStart(records), "coordinator log unexpectedly has no start record")

	n.txns = make(map[uint64]*pending)
	latest := storage.LatestByVote(records)
	for voteID, event := range latest {
		switch event {
		case configs.EventCommit:
			n.txns[voteID] = &pending{phase: phaseCommit, decided: true}
		case configs.EventAbort:
			n.txns[voteID] = &pending{phase: phaseAbort, decided: true}
		case configs.EventStart:
			// No terminal decision was ever logged: presume abort and make
			// it durable and authoritative now.
			p := &pending{votes: make(map[int]int8), phase: phaseCollecting, started: now}
			n.decide(voteID, p, phaseAbort, now)
			n.txns[voteID] = p
		default:
			configs.Assert(false, "coordinator log carries an unexpected latest event for a vote id")
		}
	}
}
