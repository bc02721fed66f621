// Package harness gives tests a fully deterministic way to drive a
// cluster of paxos roles: a logical clock instead of wall time, and an
// Interposer that holds every in-flight Envelope so a test can deliver,
// drop, duplicate or reorder messages under its own control. This is
// what lets the paxos package's round-trip and property tests (modeled
// on the style of the reference property-based Paxos suite built with
// pgregory.net/rapid) explore message schedules exhaustively instead of
// depending on goroutine timing.
package harness

import (
	"time"

	"github.com/erewok/multifaustus/paxos"
)

// DeterministicClock hands out Tick inputs advancing a logical instant by
// a fixed step per call, so timeout-driven retries (Phase1 backoff,
// Phase2 resend) are reproducible across test runs regardless of how
// fast the test machine is.
type DeterministicClock struct {
	now  time.Time
	step time.Duration
}

// NewDeterministicClock starts the clock at an arbitrary fixed epoch
// (never time.Now: the paxos core treats every Tick.Now as opaque, so
// any starting instant is as good as any other, and a fixed one keeps
// test output reproducible).
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	return &DeterministicClock{now: time.Unix(0, 0), step: step}
}

// Advance moves the clock forward by one step and returns the Tick to
// feed into every role that should observe it.
func (c *DeterministicClock) Advance() paxos.Tick {
	c.now = c.now.Add(c.step)
	return paxos.Tick{Now: c.now}
}

// Now returns the clock's current instant without advancing it.
func (c *DeterministicClock) Now() time.Time { return c.now }

// Interposer is an addressable, inspectable message buffer standing in
// for the network: every Envelope a role's Step produces is appended to
// the destination's queue instead of being delivered immediately, so a
// test controls exactly when, whether, and in what order delivery
// happens: partitions, losses, duplicates, arbitrary interleavings.
type Interposer struct {
	queues map[paxos.NodeId][]paxos.Envelope
}

// NewInterposer creates an empty message buffer.
func NewInterposer() *Interposer {
	return &Interposer{queues: make(map[paxos.NodeId][]paxos.Envelope)}
}

// Enqueue buffers every envelope in out, keyed by destination.
func (ip *Interposer) Enqueue(out paxos.Outbox) {
	for _, env := range out {
		ip.queues[env.Dest] = append(ip.queues[env.Dest], env)
	}
}

// Pending returns the number of envelopes still queued for dest.
func (ip *Interposer) Pending(dest paxos.NodeId) int {
	return len(ip.queues[dest])
}

// Pop removes and returns the oldest envelope queued for dest, in FIFO
// order, mirroring a reliable-but-unordered-across-destinations channel.
// The bool is false if dest's queue is empty.
func (ip *Interposer) Pop(dest paxos.NodeId) (paxos.Envelope, bool) {
	q := ip.queues[dest]
	if len(q) == 0 {
		return paxos.Envelope{}, false
	}
	env := q[0]
	ip.queues[dest] = q[1:]
	return env, true
}

// Drop discards the oldest envelope queued for dest without delivering
// it, modeling message loss.
func (ip *Interposer) Drop(dest paxos.NodeId) bool {
	_, ok := ip.Pop(dest)
	return ok
}

// Duplicate re-enqueues the oldest envelope queued for dest behind
// itself, so the next two Pop calls both return it.
func (ip *Interposer) Duplicate(dest paxos.NodeId) bool {
	q := ip.queues[dest]
	if len(q) == 0 {
		return false
	}
	dup := append([]paxos.Envelope{q[0]}, q...)
	ip.queues[dest] = dup
	return true
}

// Partition removes every envelope currently queued for any node in cut.
// The cut is not remembered: envelopes enqueued afterwards are delivered
// normally unless Partition is called again.
func (ip *Interposer) Partition(cut map[paxos.NodeId]struct{}) {
	for dest := range cut {
		ip.queues[dest] = nil
	}
}

// Empty reports whether every queue is drained, the quiescence condition
// a test waits for before asserting on final state.
func (ip *Interposer) Empty() bool {
	for _, q := range ip.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}
