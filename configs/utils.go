package configs

import (
	"fmt"
	"github.com/goccy/go-json"
	"log"
	"strconv"
	"time"
)

func nodeTag(nodeID int) string {
	return "N" + strconv.Itoa(nodeID)
}

// DPrintf prints a debug-level message, gated by ShowDebugInfo.
func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		emit(format, a...)
	}
}

// LPrintf prints a robustness/level-change message (crash, recover, decide).
func LPrintf(format string, a ...interface{}) {
	if ShowRobustnessLevelChanges {
		emit(format, a...)
	}
}

// TPrintf prints a trace/info-level message (link-failure drops, presumed abort).
func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		emit(format, a...)
	}
}

// NPrintf prints a message tagged with a node id, at debug level.
func NPrintf(nodeID int, format string, a ...interface{}) {
	DPrintf(nodeTag(nodeID)+": "+format, a...)
}

func emit(format string, a ...interface{}) {
	line := time.Now().Format("15:04:05.000") + " <---> " + format + "\n"
	if LogToFile {
		log.Printf(line, a...)
	} else {
		fmt.Printf(line, a...)
	}
}

// JToString renders v as compact JSON for debug logging.
func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

// JPrint dumps v as JSON to stdout, gated by ShowDebugInfo.
func JPrint(v interface{}) {
	if !ShowDebugInfo {
		return
	}
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

// Assert panics when cond is false — used for invariants that must never
// be violated by correct protocol logic (durability-before-action,
// monotone status, duplicate conflicting terminal decisions).
func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] assertion failed: " + msg)
	}
	return cond
}

// Warn logs a non-fatal condition, gated by ShowWarnings.
func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		emit("[WARNING] " + msg)
	}
	return cond
}

// CheckError panics on unexpected I/O/system errors (log file open failure,
// WAL write failure) and on errors recovery gets back from reading the log,
// corrupt entries included.
func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}
