package storage

import (
	"fmt"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/utils"
)

// HasStart reports whether any record carries the coordinator-only
// "start" event. Coordinator recovery asserts that it does and participant
// recovery asserts that it does not; neither switches recovery path on it.
func HasStart(records []Record) bool {
	for _, r := range records {
		if r.Event == configs.EventStart {
			return true
		}
	}
	return false
}

// LatestByVote returns, for each vote id, the event of its last record in
// log order. Coordinator recovery uses it to find each vote id's latest
// record; participant recovery uses LatestStatus instead.
func LatestByVote(records []Record) map[uint64]string {
	latest := make(map[uint64]string, len(records))
	for _, r := range records {
		latest[r.VoteID] = r.Event
	}
	return latest
}

// LatestStatus returns, for each vote id, the last record whose event is
// one of the given events — e.g. the participant recovery rule "statuses
// [vote_id] = last of {requested, commit, abort}", which deliberately
// ignores intervening "yes" lines.
func LatestStatus(records []Record, events ...string) map[uint64]string {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	latest := make(map[uint64]string)
	for _, r := range records {
		if allowed[r.Event] {
			latest[r.VoteID] = r.Event
		}
	}
	return latest
}

// CheckConflicts reports utils.ErrConflictingDecision if the log ever
// recorded two different terminal events (commit and abort) for the same
// vote id — not idempotent replay of the same event, a genuine
// disagreement, which spec §7 treats as a correctness bug to fail loudly
// on rather than silently resolve.
func CheckConflicts(records []Record) error {
	terminal := make(map[uint64]string)
	for _, r := range records {
		if r.Event != configs.EventCommit && r.Event != configs.EventAbort {
			continue
		}
		if prior, ok := terminal[r.VoteID]; ok && prior != r.Event {
			return fmt.Errorf("vote %d: logged both %s and %s: %w", r.VoteID, prior, r.Event, utils.ErrConflictingDecision)
		}
		terminal[r.VoteID] = r.Event
	}
	return nil
}

// HasYes reports whether any record for voteID carries the "yes" event.
func HasYes(records []Record, voteID uint64) bool {
	for _, r := range records {
		if r.VoteID == voteID && r.Event == configs.EventYes {
			return true
		}
	}
	return false
}
