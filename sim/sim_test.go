package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/network"
	"github.com/atomicsim/twopc/network/participant"
	"github.com/atomicsim/twopc/schedule"
	"github.com/atomicsim/twopc/storage"
)

func useFastTiming() func() {
	origTick, origParticipant, origCoordinator := configs.TickInterval, configs.ParticipantTimeout, configs.CoordinatorTimeout
	configs.TickInterval = time.Millisecond
	configs.ParticipantTimeout = 100 * time.Millisecond
	configs.CoordinatorTimeout = 100 * time.Millisecond
	return func() {
		configs.TickInterval = origTick
		configs.ParticipantTimeout = origParticipant
		configs.CoordinatorTimeout = origCoordinator
	}
}

func readLog(t *testing.T, s *Simulator, nodeID int) ([]storage.Record, error) {
	log, err := s.Log(nodeID)
	assert.NoError(t, err)
	return log.ReadAll()
}

// TestScenarioHappyCommit is spec.md §8 scenario S1: all participants vote
// YES, every node's log ends with commit:0.
func TestScenarioHappyCommit(t *testing.T) {
	defer useFastTiming()()
	dir := t.TempDir()
	s, err := NewSimulator(dir)
	assert.NoError(t, err)

	_, err = s.CreateCoordinator(configs.CoordinatorID, map[uint64]uint8{0: network.VoteYes}, []schedule.Task{
		{Kind: schedule.SendVoteRequest, VoteID: 0, At: 2 * time.Millisecond},
	})
	assert.NoError(t, err)
	_, err = s.CreateParticipant(1, map[uint64]participant.VoteResponse{0: {Vote: 1}}, nil)
	assert.NoError(t, err)
	_, err = s.CreateParticipant(2, map[uint64]participant.VoteResponse{0: {Vote: 1}}, nil)
	assert.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.NoError(t, s.Stop())

	for _, id := range []int{0, 1, 2} {
		records, err := readLog(t, s, id)
		assert.NoError(t, err)
		assert.NotEmpty(t, records)
		assert.Equal(t, configs.EventCommit, records[len(records)-1].Event)
	}
}

// TestScenarioOneNoAborts is spec.md §8 scenario S2.
func TestScenarioOneNoAborts(t *testing.T) {
	defer useFastTiming()()
	dir := t.TempDir()
	s, err := NewSimulator(dir)
	assert.NoError(t, err)

	_, err = s.CreateCoordinator(configs.CoordinatorID, map[uint64]uint8{0: network.VoteYes}, []schedule.Task{
		{Kind: schedule.SendVoteRequest, VoteID: 0, At: 2 * time.Millisecond},
	})
	assert.NoError(t, err)
	_, err = s.CreateParticipant(1, map[uint64]participant.VoteResponse{0: {Vote: 0}}, nil)
	assert.NoError(t, err)
	_, err = s.CreateParticipant(2, map[uint64]participant.VoteResponse{0: {Vote: 1}}, nil)
	assert.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.NoError(t, s.Stop())

	for _, id := range []int{0, 1, 2} {
		records, err := readLog(t, s, id)
		assert.NoError(t, err)
		assert.NotEmpty(t, records)
		assert.Equal(t, configs.EventAbort, records[len(records)-1].Event)
	}
}

// TestScenarioCrashAndRecover is spec.md §8 scenario S4: the coordinator
// logs start:0, crashes before deciding, and on resume presumed-abort
// recovery writes abort:0 and rebroadcasts it to every participant.
func TestScenarioCrashAndRecover(t *testing.T) {
	defer useFastTiming()()
	dir := t.TempDir()
	s, err := NewSimulator(dir)
	assert.NoError(t, err)

	_, err = s.CreateCoordinator(configs.CoordinatorID, map[uint64]uint8{0: network.VoteYes}, []schedule.Task{
		{Kind: schedule.SendVoteRequest, VoteID: 0, At: 5 * time.Millisecond},
		{Kind: schedule.KillSelf, At: 6 * time.Millisecond},
		{Kind: schedule.ResumeSelf, At: 40 * time.Millisecond},
	})
	assert.NoError(t, err)
	_, err = s.CreateParticipant(1, map[uint64]participant.VoteResponse{0: {Vote: network.VoteYes}}, nil)
	assert.NoError(t, err)
	_, err = s.CreateParticipant(2, map[uint64]participant.VoteResponse{0: {Vote: network.VoteYes}}, nil)
	assert.NoError(t, err)

	time.Sleep(250 * time.Millisecond)
	assert.NoError(t, s.Stop())

	coordRecords, err := readLog(t, s, configs.CoordinatorID)
	assert.NoError(t, err)
	assert.NotEmpty(t, coordRecords)
	assert.Equal(t, configs.EventStart, coordRecords[0].Event, "start must be durable before the crash")
	assert.Equal(t, configs.EventAbort, coordRecords[len(coordRecords)-1].Event, "presumed abort on recovery")

	for _, id := range []int{1, 2} {
		records, err := readLog(t, s, id)
		assert.NoError(t, err)
		assert.NotEmpty(t, records)
		assert.Equal(t, configs.EventAbort, records[len(records)-1].Event)
	}
}

// TestScenarioUncertainParticipantResolvesViaTerminationProtocol is
// spec.md §8 scenario S5: participant 1 durably votes yes and crashes
// before the coordinator's decision reaches it; the coordinator commits
// in the meantime (participant 2's slower vote still arrives within its
// own timeout). On resume, participant 1's recovery finds itself
// uncertain, runs the termination protocol, and the coordinator answers
// authoritatively with Commit.
func TestScenarioUncertainParticipantResolvesViaTerminationProtocol(t *testing.T) {
	defer useFastTiming()()
	dir := t.TempDir()
	s, err := NewSimulator(dir)
	assert.NoError(t, err)

	_, err = s.CreateCoordinator(configs.CoordinatorID, map[uint64]uint8{0: network.VoteYes}, []schedule.Task{
		{Kind: schedule.SendVoteRequest, VoteID: 0, At: 5 * time.Millisecond},
	})
	assert.NoError(t, err)
	_, err = s.CreateParticipant(1, map[uint64]participant.VoteResponse{0: {Vote: network.VoteYes}}, []schedule.Task{
		{Kind: schedule.KillSelf, At: 20 * time.Millisecond},
		{Kind: schedule.ResumeSelf, At: 80 * time.Millisecond},
	})
	assert.NoError(t, err)
	// A slower but still well-within-timeout vote from participant 2 keeps
	// the coordinator from deciding before participant 1's own yes vote has
	// already been durably sent and received.
	_, err = s.CreateParticipant(2, map[uint64]participant.VoteResponse{0: {Vote: network.VoteYes, Delay: 30 * time.Millisecond}}, nil)
	assert.NoError(t, err)

	// Drop the coordinator's first Commit broadcast to participant 1 so it
	// cannot resolve from a message that happened to queue up during the
	// crash window; it must genuinely recover as uncertain and run the
	// termination protocol instead.
	s.LinkFailure(configs.CoordinatorID, 1, 10*time.Millisecond, 75*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	assert.NoError(t, s.Stop())

	records, err := readLog(t, s, 1)
	assert.NoError(t, err)
	assert.NotEmpty(t, records)
	assert.Contains(t, records, storage.Record{VoteID: 0, Event: configs.EventYes})
	assert.Equal(t, configs.EventCommit, records[len(records)-1].Event, "resolved via the termination protocol after crash")
}

func TestNetworkPartitionInstallsSymmetricFailures(t *testing.T) {
	s, err := NewSimulator(t.TempDir())
	assert.NoError(t, err)
	_, err = s.CreateCoordinator(configs.CoordinatorID, nil, nil)
	assert.NoError(t, err)
	_, err = s.CreateParticipant(1, nil, nil)
	assert.NoError(t, err)
	_, err = s.CreateParticipant(2, nil, nil)
	assert.NoError(t, err)

	s.NetworkPartition([]int{0, 1}, []int{2}, 2*time.Second, 5*time.Second)
	assert.NoError(t, s.Stop())

	// With every loop stopped, probe the edges directly: a send inside the
	// window is dropped on every cross-group edge, in both directions, while
	// the edge inside group {0,1} still delivers.
	at := 3 * time.Second
	for _, pair := range [][2]int{{0, 2}, {2, 0}, {1, 2}, {2, 1}} {
		s.fabric.Send(pair[0], pair[1], network.VoteRequest{VoteID: 0}, at)
		_, ok := s.fabric.Recv(pair[0], pair[1], 0)
		assert.False(t, ok, "edge %d->%d should drop traffic inside the partition window", pair[0], pair[1])
	}
	s.fabric.Send(0, 1, network.VoteRequest{VoteID: 0}, at)
	_, ok := s.fabric.Recv(0, 1, 0)
	assert.True(t, ok, "edge 0->1 is inside one group and is not partitioned")
}
