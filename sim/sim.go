// Package sim is the driver surface (spec.md §6): the external
// collaborator that wires nodes onto a shared fabric, runs their loops,
// injects scripted failures, and tears everything down at the end of a
// scenario. None of the 2PC protocol logic lives here.
package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/sync/errgroup"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/network"
	"github.com/atomicsim/twopc/network/coordinator"
	"github.com/atomicsim/twopc/network/participant"
	"github.com/atomicsim/twopc/node"
	"github.com/atomicsim/twopc/schedule"
	"github.com/atomicsim/twopc/storage"
	"github.com/atomicsim/twopc/utils"
)

// Node is the common surface the simulator needs from a running node,
// satisfied by both *coordinator.Node and *participant.Node.
type Node interface {
	node.Handler
	ID() int
	Stop()
	AddPeer(id int)
}

// Simulator owns the fabric, the set of live nodes, and the goroutine
// group running their event loops (spec.md §6 driver surface).
type Simulator struct {
	logDir string
	fabric *network.Fabric
	nodes  map[int]Node
	logs   map[int]*storage.Log
	group  *errgroup.Group
}

// NewSimulator recreates logDir empty and returns a simulator ready to
// accept CreateCoordinator/CreateParticipant calls (spec.md §6: "the directory is recreated empty
// at each simulation start").
func NewSimulator(logDir string) (*Simulator, error) {
	if err := os.RemoveAll(logDir); err != nil {
		return nil, fmt.Errorf("clear log dir: %w", err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Simulator{
		logDir: logDir,
		fabric: network.NewFabric(),
		nodes:  make(map[int]Node),
		logs:   make(map[int]*storage.Log),
		group:  &errgroup.Group{},
	}, nil
}

// CreateCoordinator constructs the coordinator (conventionally id
// configs.CoordinatorID), wires it to every node already present, and
// starts its loop on its own goroutine. selfVotes is the coordinator's own
// vote response table (spec §3/§4.5: "the coordinator votes too").
func (s *Simulator) CreateCoordinator(id int, selfVotes map[uint64]uint8, tasks []schedule.Task) (*coordinator.Node, error) {
	log, err := storage.Open(s.logDir, id)
	if err != nil {
		return nil, err
	}
	peers := s.peerIDs()
	n := coordinator.New(id, s.fabric, log, selfVotes, tasks, peers)
	s.logs[id] = log
	s.wireAndRun(id, n)
	return n, nil
}

// CreateParticipant constructs a participant, wires it to every node
// already present, and starts its loop on its own goroutine.
func (s *Simulator) CreateParticipant(id int, voteResponses map[uint64]participant.VoteResponse, tasks []schedule.Task) (*participant.Node, error) {
	log, err := storage.Open(s.logDir, id)
	if err != nil {
		return nil, err
	}
	n := participant.New(id, s.fabric, log, voteResponses, tasks, s.peerIDs())
	s.logs[id] = log
	s.wireAndRun(id, n)
	return n, nil
}

// Log returns the durable log handle for a previously created node, for
// tests and post-mortem inspection.
func (s *Simulator) Log(id int) (*storage.Log, error) {
	l, ok := s.logs[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, utils.ErrUnknownNode)
	}
	return l, nil
}

func (s *Simulator) peerIDs() []int {
	ids := make([]int, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

// wireAndRun connects the new node n to every node already present (in
// both directions, spec.md §6: "wires two fresh FIFO edges to every
// previously created node"), tells each existing node about the newcomer,
// registers n, and starts its loop on its own goroutine.
func (s *Simulator) wireAndRun(id int, n Node) {
	for peer, existing := range s.nodes {
		s.fabric.Connect(id, peer)
		existing.AddPeer(id)
	}
	s.nodes[id] = n
	s.group.Go(func() error {
		node.Run(n, configs.TickInterval)
		return nil
	})
}

// Node looks up a previously created node by id.
func (s *Simulator) Node(id int) (Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, utils.ErrUnknownNode)
	}
	return n, nil
}

// LinkFailure installs one directed failure interval, symmetrically, on
// the producer and consumer endpoints of the edge between from and to
// (spec.md §6: "installs one directed failure interval on the producer
// and consumer endpoints").
func (s *Simulator) LinkFailure(from, to int, start, end time.Duration) {
	w := network.FailureWindow{Start: start, End: end}
	s.fabric.InstallFailure(from, to, w)
}

// NetworkPartition installs link failures on every ordered cross-group
// pair, both directions (spec.md §6).
func (s *Simulator) NetworkPartition(groupA, groupB []int, start, end time.Duration) {
	a := mapset.NewSet()
	for _, id := range groupA {
		a.Add(id)
	}
	b := mapset.NewSet()
	for _, id := range groupB {
		b.Add(id)
	}
	configs.Assert(a.Intersect(b).Cardinality() == 0, "partition groups must be disjoint")
	for raw1 := range a.Iter() {
		n1 := raw1.(int)
		for raw2 := range b.Iter() {
			n2 := raw2.(int)
			s.LinkFailure(n1, n2, start, end)
			s.LinkFailure(n2, n1, start, end)
		}
	}
}

// Stop asks every node to retire at its next tick boundary and waits for
// all loops to exit (spec.md §6: "sets stop on every node, joins, clears
// the registry").
func (s *Simulator) Stop() error {
	for _, n := range s.nodes {
		n.Stop()
	}
	err := s.group.Wait()
	s.nodes = make(map[int]Node)
	return err
}

// LogPath returns the on-disk path of a node's log, the directory in which
// tidwall/wal keeps its segment files, for tests and post-mortem inspection.
func (s *Simulator) LogPath(id int) string {
	return filepath.Join(s.logDir, fmt.Sprint(id))
}
