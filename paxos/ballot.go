// Package paxos implements the sans-IO core of a MultiPaxos cluster: the
// Replica, Leader and Acceptor state machines and the message algebra that
// drives them. Every exported type in this package is a pure value; the
// only side effect any of the role types performs is to return an outbox
// of messages for a driver to deliver. See doc.go for the package-level
// contract.
package paxos

import "fmt"

// NodeId is an opaque, totally ordered identifier for a process in the
// cluster. It also serves as the tiebreaker component of a BallotNumber.
type NodeId uint32

func (n NodeId) String() string {
	return fmt.Sprintf("N%d", uint32(n))
}

// BallotNumber totally orders proposals across all leaders. Ballots are
// compared lexicographically on (Round, Leader); the zero value is the
// bottom ballot ⊥, which precedes every real ballot.
type BallotNumber struct {
	Round  uint64
	Leader NodeId
}

// BallotZero is the bottom ballot ⊥: "no ballot promised yet".
var BallotZero = BallotNumber{}

// IsZero reports whether b is the bottom ballot.
func (b BallotNumber) IsZero() bool {
	return b == BallotZero
}

// Less reports whether b strictly precedes o in ballot order.
func (b BallotNumber) Less(o BallotNumber) bool {
	if b.Round != o.Round {
		return b.Round < o.Round
	}
	return b.Leader < o.Leader
}

// LessEqual reports whether b precedes or equals o.
func (b BallotNumber) LessEqual(o BallotNumber) bool {
	return b == o || b.Less(o)
}

// GreaterEqual reports whether b is at least as high as o.
func (b BallotNumber) GreaterEqual(o BallotNumber) bool {
	return o.LessEqual(b)
}

func (b BallotNumber) String() string {
	return fmt.Sprintf("(round=%d, leader=%v)", b.Round, b.Leader)
}

// Slot is a position in the agreed command sequence, indexed from 1.
type Slot uint64

// Command is a client-submitted operation. Two commands are equal iff all
// three fields match; (Client, RequestId) is the deduplication key.
type Command struct {
	Client    NodeId
	RequestId uint64
	Operation []byte
}

// Equal reports whether c and o carry the same client, request id and
// operation bytes.
func (c Command) Equal(o Command) bool {
	if c.Client != o.Client || c.RequestId != o.RequestId {
		return false
	}
	if len(c.Operation) != len(o.Operation) {
		return false
	}
	for i := range c.Operation {
		if c.Operation[i] != o.Operation[i] {
			return false
		}
	}
	return true
}

func (c Command) String() string {
	return fmt.Sprintf("Command{client=%v, requestId=%d, len(op)=%d}", c.Client, c.RequestId, len(c.Operation))
}

// DedupKey identifies a command for at-least-once dedup bookkeeping at a
// replica.
type DedupKey struct {
	Client    NodeId
	RequestId uint64
}

func (c Command) DedupKey() DedupKey {
	return DedupKey{Client: c.Client, RequestId: c.RequestId}
}

// PValue is the evidence an acceptor presents during leader takeover: "some
// acceptor accepted this command in this slot at this ballot".
type PValue struct {
	Ballot  BallotNumber
	Slot    Slot
	Command Command
}

func (p PValue) String() string {
	return fmt.Sprintf("PValue{ballot=%v, slot=%d, command=%v}", p.Ballot, p.Slot, p.Command)
}

// Decision is the result of consensus for one slot.
type Decision struct {
	Slot    Slot
	Command Command
}

func (d Decision) String() string {
	return fmt.Sprintf("Decision{slot=%d, command=%v}", d.Slot, d.Command)
}

// pmax selects, for each slot present in pvalues, the pvalue with the
// highest ballot, tiebreaking on the ballot's leader NodeId (which is what
// BallotNumber.Less already does). Used by Leader adoption.
func pmax(pvalues []PValue) map[Slot]PValue {
	out := make(map[Slot]PValue, len(pvalues))
	for _, pv := range pvalues {
		cur, found := out[pv.Slot]
		if !found || cur.Ballot.Less(pv.Ballot) {
			out[pv.Slot] = pv
		}
	}
	return out
}
