package configs

import "time"

// Debugging parameters. Mirrors the teacher's level-gated print switches.
var (
	ShowDebugInfo              = false
	ShowWarnings               = ShowDebugInfo
	ShowTestInfo               = ShowDebugInfo
	ShowRobustnessLevelChanges = ShowDebugInfo
	LogToFile                  = false
)

// Log record event names, written verbatim into the durable log.
const (
	EventStart     string = "start"
	EventYes       string = "yes"
	EventCommit    string = "commit"
	EventAbort     string = "abort"
	EventRequested string = "requested"
)

// CoordinatorID is the well-known node id participants address for votes
// and decision requests.
const CoordinatorID = 0

// System parameters.
var (
	// TickInterval is the fixed cooperative-loop period (spec §4.3 default 1ms).
	TickInterval = time.Millisecond

	// ParticipantTimeout drives the termination protocol (spec §5 default 2s).
	ParticipantTimeout = 2 * time.Second

	// CoordinatorTimeout drives presumed-abort on vote collection (spec §5 default 2s).
	CoordinatorTimeout = 2 * time.Second

	// LogDir is the root directory under which logs/<node_id> files live.
	LogDir = "./logs"
)
