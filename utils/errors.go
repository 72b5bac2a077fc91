package utils

import "errors"

// Sentinel errors surfaced across the simulator's core packages.
var (
	// ErrCorruptLog is returned by storage.Log.ReadAll when a log line
	// cannot be parsed as "_:vote_id:event". Recovery passes it to
	// configs.CheckError, which panics.
	ErrCorruptLog = errors.New("corrupt log entry")

	// ErrUnknownNode is returned when a driver operation names a node id
	// that was never created.
	ErrUnknownNode = errors.New("unknown node id")

	// ErrConflictingDecision marks a logged terminal event that disagrees
	// with a previously logged terminal event for the same vote id — a
	// correctness bug per spec §7 ("fail loudly").
	ErrConflictingDecision = errors.New("conflicting terminal decision")
)
