// Package participant implements the 2PC participant state machine
// (component F): voting, the termination protocol run while uncertain,
// and recovery from a durable log after a simulated crash.
package participant

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/network"
	"github.com/atomicsim/twopc/schedule"
	"github.com/atomicsim/twopc/storage"
)

// VoteResponse is the test hook of spec §3: a pre-declared (vote, delay)
// pair a participant consults when asked to vote on a vote_id. A
// production participant would derive Vote from local transactional
// state instead of a lookup table.
type VoteResponse struct {
	Vote  uint8
	Delay time.Duration
}

type status uint8

const (
	statusRequested status = iota
	statusPending
	statusCommit
	statusAbort
)

type deferredSend struct {
	msg network.Message
	at  time.Duration
}

// Node is a participant in the 2PC protocol (spec §4.4).
type Node struct {
	id            int
	coordinatorID int
	peersMu       sync.Mutex
	peers         []int // every other node, for the DecisionReq broadcast
	fabric        *network.Fabric
	log           *storage.Log
	tasks         *schedule.Queue
	timeout       time.Duration

	voteResponses map[uint64]VoteResponse
	status        map[uint64]status
	pendingAt     map[uint64]time.Duration
	toSend        map[uint64]deferredSend

	killed int32
	stop   int32
}

// New constructs a participant node. peers lists every other node id in
// the simulation (coordinator and siblings), used for the DecisionReq
// broadcast.
func New(id int, fabric *network.Fabric, log *storage.Log, voteResponses map[uint64]VoteResponse, tasks []schedule.Task, peers []int) *Node {
	n := &Node{
		id:            id,
		coordinatorID: configs.CoordinatorID,
		peers:         append([]int(nil), peers...),
		fabric:        fabric,
		log:           log,
		tasks:         schedule.NewQueue(tasks),
		timeout:       configs.ParticipantTimeout,
		voteResponses: voteResponses,
		status:        make(map[uint64]status),
		pendingAt:     make(map[uint64]time.Duration),
		toSend:        make(map[uint64]deferredSend),
	}
	return n
}

// ID returns the node's identifier.
func (n *Node) ID() int { return n.id }

// AddPeer registers a node created after this one (the simulator wires
// every new node to all existing ones in both directions).
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

// Receive implements node.Handler step 1: drain at most one message from
// every inbound edge and dispatch it.
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
	case network.VoteRequest:
		n.onVoteRequest(m.VoteID, now)
	case network.Commit:
		n.onCommit(m.VoteID)
	case network.Abort:
		n.onAbort(m.VoteID)
	case network.DecisionReq:
		// A participant today only acts as a requester, never an
		// authoritative responder — the coordinator alone answers
		// DecisionReq (spec §4.5, §9). This is a deliberate no-op, not
		// a missing case: a future extension could let a participant
		// holding a terminal decision answer too.
	default:
		configs.NPrintf(n.id, "ignoring unexpected message %v from %d", msg, from)
	}
}

func (n *Node) onVoteRequest(voteID uint64, now time.Duration) {
	n.log.Append(now.Seconds(), voteID, configs.EventRequested)
	n.status[voteID] = statusRequested
}

func (n *Node) onCommit(voteID uint64) {
	if _, ok := n.status[voteID]; !ok {
		configs.NPrintf(n.id, "ignoring Commit for unknown vote %d", voteID)
		return
	}
	if n.status[voteID] == statusPending {
		n.status[voteID] = statusCommit
	}
	// Outside `pending` this is a replay (duplicate broadcast, or we
	// already decided locally): ignored, per spec §4.4.
}

func (n *Node) onAbort(voteID uint64) {
	if _, ok := n.status[voteID]; !ok {
		configs.NPrintf(n.id, "ignoring Abort for unknown vote %d", voteID)
		return
	}
	if n.status[voteID] == statusPending {
		n.status[voteID] = statusAbort
	}
}

// Advance implements node.Handler step 2: every vote_id entry advances
// exactly one step per tick.
func (n *Node) Advance(now time.Duration) {
	ids := make([]uint64, 0, len(n.status))
	for id := range n.status {
		ids = append(ids, id)
	}
	for _, voteID := range ids {
		switch n.status[voteID] {
		case statusRequested:
			n.prepareVote(voteID, now)
		case statusCommit:
			n.commit(voteID, now)
		case statusAbort:
			n.abort(voteID, now)
		case statusPending:
			if now > n.pendingAt[voteID]+n.timeout {
				n.requestDecision(voteID, now)
			}
		}
	}
}

func (n *Node) prepareVote(voteID uint64, now time.Duration) {
	resp, ok := n.voteResponses[voteID]
	configs.Assert(ok, "no vote response configured for this vote id")
	n.toSend[voteID] = deferredSend{
		msg: network.Vote{From: n.id, VoteID: voteID, Vote: resp.Vote},
		at:  now + resp.Delay,
	}
	if resp.Vote == network.VoteYes {
		n.log.Append(now.Seconds(), voteID, configs.EventYes)
		n.status[voteID] = statusPending
		n.pendingAt[voteID] = now
	} else {
		n.status[voteID] = statusAbort
	}
}

func (n *Node) commit(voteID uint64, now time.Duration) {
	n.log.Append(now.Seconds(), voteID, configs.EventCommit)
	configs.LPrintf("node %d commits vote %d", n.id, voteID)
	delete(n.status, voteID)
}

func (n *Node) abort(voteID uint64, now time.Duration) {
	n.log.Append(now.Seconds(), voteID, configs.EventAbort)
	configs.LPrintf("node %d aborts vote %d", n.id, voteID)
	delete(n.status, voteID)
}

// requestDecision runs the termination protocol: broadcast DecisionReq to
// every peer (coordinator and siblings alike — spec §9) and reset the
// pending timer so the next request is one timeout later.
func (n *Node) requestDecision(voteID uint64, now time.Duration) {
	configs.TPrintf("node %d timed out waiting on vote %d, requesting decision", n.id, voteID)
	for _, peer := range n.peerList() {
		n.fabric.Send(n.id, peer, network.DecisionReq{VoteID: voteID, FromNode: n.id}, now)
	}
	n.pendingAt[voteID] = now
}

// FlushSends implements node.Handler step 3. A participant's only deferred
// sends are its own Vote replies, always addressed to the coordinator.
func (n *Node) FlushSends(now time.Duration) {
	if n.Killed() {
		n.toSend = make(map[uint64]deferredSend)
		return
	}
	for voteID, d := range n.toSend {
		if now >= d.at {
			n.fabric.Send(n.id, n.coordinatorID, d.msg, now)
			delete(n.toSend, voteID)
		}
	}
}

// RunTasks implements node.Handler step 4.
func (n *Node) RunTasks(now time.Duration) {
	for _, t := range n.tasks.Due(now) {
		switch t.Kind {
		case schedule.KillSelf:
			n.setKilled(true)
		case schedule.ResumeSelf:
			n.setKilled(false)
			n.Recover(now)
		default:
			configs.Assert(false, "participant node received a coordinator-only task")
		}
	}
}

// Recover replays the durable log and restores in-memory state (spec
// §4.4). Invoked whenever a ResumeSelf task fires.
func (n *Node) Recover(now time.Duration) {
	records, err := n.log.ReadAll()
	configs.CheckError(err)
	configs.CheckError(storage.CheckConflicts(records))
	configs.Assert(!storage.HasStart(records), "participant log unexpectedly contains a coordinator start record")

	statuses := storage.LatestStatus(records, configs.EventRequested, configs.EventCommit, configs.EventAbort)
	for voteID, st := range statuses {
		switch st {
		case configs.EventCommit, configs.EventAbort:
			continue // decision already durable, nothing to do.
		default:
			if storage.HasYes(records, voteID) {
				n.status[voteID] = statusPending
				n.pendingAt[voteID] = now
				n.requestDecision(voteID, now)
			} else {
				n.log.Append(now.Seconds(), voteID, configs.EventAbort)
				delete(n.status, voteID)
				resp, ok := n.voteResponses[voteID]
				if !ok {
					resp = VoteResponse{Vote: network.VoteNo}
				}
				n.toSend[voteID] = deferredSend{
					msg: network.Vote{From: n.id, VoteID: voteID, Vote: network.VoteNo},
					at:  now + resp.Delay,
				}
			}
		}
	}
}
