// Command simulate runs scenario S1 (happy commit, spec.md §8) as a
// runnable illustration of the sim package's driver surface. The scenario
// scripting language itself is out of scope; this is a thin, literal
// wiring of one scenario.
package main

import (
	"fmt"
	"time"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/network"
	"github.com/atomicsim/twopc/network/participant"
	"github.com/atomicsim/twopc/schedule"
	"github.com/atomicsim/twopc/sim"
)

func main() {
	configs.ShowDebugInfo = true
	configs.ShowWarnings = true
	configs.ShowTestInfo = true
	configs.ShowRobustnessLevelChanges = true

	s, err := sim.NewSimulator(configs.LogDir)
	configs.CheckError(err)

	_, err = s.CreateCoordinator(configs.CoordinatorID, map[uint64]uint8{0: network.VoteYes}, []schedule.Task{
		{Kind: schedule.SendVoteRequest, VoteID: 0, At: time.Second},
	})
	configs.CheckError(err)

	_, err = s.CreateParticipant(1, map[uint64]participant.VoteResponse{
		0: {Vote: 1, Delay: 500 * time.Millisecond},
	}, nil)
	configs.CheckError(err)

	_, err = s.CreateParticipant(2, map[uint64]participant.VoteResponse{
		0: {Vote: 1, Delay: 500 * time.Millisecond},
	}, nil)
	configs.CheckError(err)

	time.Sleep(3 * time.Second)
	configs.CheckError(s.Stop())

	fmt.Println("scenario S1 complete, logs written under", configs.LogDir)
}
