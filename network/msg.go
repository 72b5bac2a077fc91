// Package network implements the channel fabric (component B) and the
// message kinds (component D) carried between the coordinator and
// participant state machines.
package network

import "fmt"

// Message is the tagged variant carried over the fabric. Concrete kinds
// below are the only implementations (the unexported isMessage method keeps
// other packages from adding more); dispatch is by type switch at the
// receiving node, not by a Kind() string, and each switch site handles
// kinds it does not expect in its default case.
type Message interface {
	fmt.Stringer
	isMessage()
}

// VoteRequest is sent coordinator -> participant to open a transaction.
type VoteRequest struct {
	VoteID uint64
}

func (m VoteRequest) isMessage() {}
func (m VoteRequest) String() string {
	return fmt.Sprintf("VoteRequest(vote=%d)", m.VoteID)
}

// Vote is sent participant -> coordinator. VoteYes and VoteNo are the only
// legal values of Vote.
type Vote struct {
	From   int
	VoteID uint64
	Vote   uint8
}

func (m Vote) isMessage() {}
func (m Vote) String() string {
	return fmt.Sprintf("Vote(from=%d, vote=%d, v=%d)", m.From, m.VoteID, m.Vote)
}

const (
	VoteNo  uint8 = 0
	VoteYes uint8 = 1
)

// Commit is broadcast coordinator -> all.
type Commit struct {
	VoteID uint64
}

func (m Commit) isMessage() {}
func (m Commit) String() string { return fmt.Sprintf("Commit(vote=%d)", m.VoteID) }

// Abort is broadcast coordinator -> all.
type Abort struct {
	VoteID uint64
}

func (m Abort) isMessage() {}
func (m Abort) String() string { return fmt.Sprintf("Abort(vote=%d)", m.VoteID) }

// DecisionReq is the termination-protocol message a participant
// broadcasts to every peer (coordinator and other participants) while
// stuck uncertain past timeout.
type DecisionReq struct {
	VoteID   uint64
	FromNode int
}

func (m DecisionReq) isMessage() {}
func (m DecisionReq) String() string {
	return fmt.Sprintf("DecisionReq(vote=%d, from=%d)", m.VoteID, m.FromNode)
}
