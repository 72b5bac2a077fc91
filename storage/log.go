// Package storage implements the durable write-ahead log (component C):
// an append-only per-node record of vote/decision events, the only state
// that survives a simulated crash.
package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/wal"

	"github.com/atomicsim/twopc/configs"
	"github.com/atomicsim/twopc/utils"
)

// Record is one parsed log line: "_:vote_id:event" (spec §4.2 — the
// timestamp is ignored during recovery, kept only for post-mortem).
type Record struct {
	VoteID uint64
	Event  string
}

// Log is the append-only per-node log, backed by a tidwall/wal instance so
// that each node gets ordered, durable, crash-safe storage without hand-
// rolling file-offset bookkeeping. Each WAL entry's payload is exactly one
// "timestamp:vote_id:event" text line; the WAL stores the entries in
// segment files under a per-node directory, in its default binary format
// (each payload prefixed by its length).
type Log struct {
	mu  sync.Mutex
	wal *wal.Log
	lsn uint64
}

// Open creates or reopens the log for nodeID under dir (dir is expected to
// already exist — see sim.NewSimulator, which recreates it empty at the
// start of each simulation).
func Open(dir string, nodeID int) (*Log, error) {
	path := filepath.Join(dir, strconv.Itoa(nodeID))
	w, err := wal.Open(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open log for node %d: %w", nodeID, err)
	}
	lsn, err := w.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("read last index for node %d: %w", nodeID, err)
	}
	return &Log{wal: w, lsn: lsn}, nil
}

// Append durably writes one event line for voteID, timestamped at ts
// (simulation-relative seconds, spec §3/§4.2 wire format).
func (l *Log) Append(tsSeconds float64, voteID uint64, event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%f:%d:%s", tsSeconds, voteID, event)
	l.lsn++
	configs.CheckError(l.wal.Write(l.lsn, []byte(line)))
}

// ReadAll replays every entry in order. A line that doesn't parse as
// "_:vote_id:event" is reported as utils.ErrCorruptLog — recovery for this
// node must stop, per spec §7 ("fatal at recovery time").
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	first, err := l.wal.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("read first index: %w", err)
	}
	last, err := l.wal.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("read last index: %w", err)
	}
	if first == 0 {
		return nil, nil
	}
	records := make([]Record, 0, last-first+1)
	for i := first; i <= last; i++ {
		raw, err := l.wal.Read(i)
		if err != nil {
			return nil, fmt.Errorf("read log entry %d: %w", i, err)
		}
		rec, err := parseRecord(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d %q: %v", utils.ErrCorruptLog, i, raw, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(line string) (Record, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("expected 3 colon-separated fields, got %d", len(parts))
	}
	voteID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid vote id %q: %w", parts[1], err)
	}
	return Record{VoteID: voteID, Event: parts[2]}, nil
}
