package paxos

import (
	"math/rand"
	"time"
)

// LeaderMode is the leader's coarse lifecycle stage:
// Inactive -> Phase1 -> Active (-> Phase2 per slot -> Active).
// There is no separate "Preempted" mode value; a leader preempted from
// either Phase1 or Active transitions straight to Inactive and waits
// out its backoff before the next election.
type LeaderMode uint8

const (
	ModeInactive LeaderMode = iota
	ModePhase1
	ModeActive
)

func (m LeaderMode) String() string {
	switch m {
	case ModeInactive:
		return "inactive"
	case ModePhase1:
		return "phase1"
	case ModeActive:
		return "active"
	default:
		return "unknown-mode"
	}
}

// LeaderMetrics are optional instrumentation hooks, nil-checked on every
// update. See internal/metrics for the prometheus-backed implementation.
type LeaderMetrics interface {
	BallotAdvanced(round uint64)
	Adopted()
	Preempted()
	Decided()
}

// Leader drives proposals to decisions via Scout (Phase 1) and Commander
// (Phase 2) sub-protocols, resolving contention by ballot preemption.
// It holds no durable state across restarts beyond its round
// counter, which must be bumped past any ballot it has ever seen.
type Leader struct {
	self    NodeId
	cluster ClusterConfig
	rng     *rand.Rand

	ballot       BallotNumber
	maxRoundSeen uint64
	mode         LeaderMode

	proposals map[Slot]Command

	p1bFrom     map[NodeId]struct{}
	p1bPvalues  []PValue
	p2bFrom     map[Slot]map[NodeId]struct{}
	inflightBal map[Slot]BallotNumber

	nextPhase1Attempt time.Time
	lastPhase1Send    time.Time
	lastPhase2Send    time.Time
	resendEvery       time.Duration
	backoffPeriod     time.Duration

	metrics LeaderMetrics
}

// NewLeader creates a leader in Inactive mode. Call Boot to trigger the
// first Phase 1.
func NewLeader(cfg ClusterConfig, rng *rand.Rand, metrics LeaderMetrics) *Leader {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Leader{
		self:        cfg.Self,
		cluster:     cfg,
		rng:         rng,
		proposals:   make(map[Slot]Command),
		p2bFrom:     make(map[Slot]map[NodeId]struct{}),
		inflightBal: make(map[Slot]BallotNumber),
		resendEvery: cfg.Backoff.Min,
		metrics:     metrics,
	}
}

// Mode reports the leader's current lifecycle stage.
func (l *Leader) Mode() LeaderMode { return l.mode }

// Ballot reports the leader's current ballot number.
func (l *Leader) Ballot() BallotNumber { return l.ballot }

// Proposals returns a copy of the slot->command commitments this leader
// has made.
func (l *Leader) Proposals() map[Slot]Command {
	out := make(map[Slot]Command, len(l.proposals))
	for s, c := range l.proposals {
		out[s] = c
	}
	return out
}

// Boot starts (or restarts) Phase 1 immediately: bumps the ballot past any
// round ever observed and emits P1a to every acceptor.
func (l *Leader) Boot() Outbox {
	l.ballot = BallotNumber{Round: l.maxRoundSeen + 1, Leader: l.self}
	l.p1bFrom = make(map[NodeId]struct{})
	l.p1bPvalues = nil
	l.mode = ModePhase1
	if l.metrics != nil {
		l.metrics.BallotAdvanced(l.ballot.Round)
	}
	return l.broadcastToAcceptors(P1a{Src: l.self, Ballot: l.ballot})
}

// Step processes one input (inbound message or tick) and returns the
// outbound batch it produces.
func (l *Leader) Step(input Input) Outbox {
	switch in := input.(type) {
	case MessageInput:
		return l.handleMessage(in.Msg)
	case Tick:
		return l.handleTick(in.Now)
	default:
		return nil
	}
}

func (l *Leader) handleMessage(msg Message) Outbox {
	switch m := msg.(type) {
	case P1b:
		return l.onP1b(m)
	case P2b:
		return l.onP2b(m)
	case Preempted:
		return l.onPreempted(m)
	case Propose:
		return l.onPropose(m)
	default:
		// Unknown senders, stale ballots and message kinds not meant
		// for a leader are dropped silently.
		return nil
	}
}

func (l *Leader) onP1b(m P1b) Outbox {
	if !l.cluster.isAcceptor(m.Src) {
		return nil // unknown sender
	}
	if l.mode != ModePhase1 || m.Ballot != l.ballot {
		return nil // stale ballot or not our current round
	}
	if _, seen := l.p1bFrom[m.Src]; seen {
		return nil // duplicate delivery, set insertion is idempotent
	}
	l.p1bFrom[m.Src] = struct{}{}
	l.p1bPvalues = append(l.p1bPvalues, m.Accepted...)

	if len(l.p1bFrom) < l.cluster.Quorum() {
		return nil
	}
	return l.adopt()
}

// adopt transitions Phase1 -> Active, reconciling proposals with the
// highest-ballot pvalue seen per slot: any command an earlier ballot may
// have driven to acceptance must be re-proposed in its slot, never
// displaced by a fresh request.
func (l *Leader) adopt() Outbox {
	reconciled := pmax(l.p1bPvalues)
	for slot, pv := range reconciled {
		if existing, found := l.proposals[slot]; !found || !existing.Equal(pv.Command) {
			l.proposals[slot] = pv.Command
		}
	}
	l.mode = ModeActive
	l.backoffShrink()
	if l.metrics != nil {
		l.metrics.Adopted()
	}

	var out Outbox
	for slot := range l.proposals {
		out = append(out, l.startCommander(slot)...)
	}
	return out
}

// startCommander begins Phase 2 for one slot.
func (l *Leader) startCommander(slot Slot) Outbox {
	l.inflightBal[slot] = l.ballot
	l.p2bFrom[slot] = make(map[NodeId]struct{})
	return l.broadcastToAcceptors(P2a{Src: l.self, Ballot: l.ballot, Slot: slot, Command: l.proposals[slot]})
}

func (l *Leader) onP2b(m P2b) Outbox {
	if !l.cluster.isAcceptor(m.Src) {
		return nil
	}
	_, inflight := l.inflightBal[m.Slot]
	if l.mode != ModeActive || !inflight || m.Ballot != l.ballot {
		return nil
	}
	from, ok := l.p2bFrom[m.Slot]
	if !ok {
		return nil
	}
	if _, seen := from[m.Src]; seen {
		return nil // duplicate delivery
	}
	from[m.Src] = struct{}{}

	if len(from) < l.cluster.Quorum() {
		return nil
	}
	cmd := l.proposals[m.Slot]
	delete(l.inflightBal, m.Slot)
	delete(l.p2bFrom, m.Slot)
	if l.metrics != nil {
		l.metrics.Decided()
	}
	return l.broadcastToReplicas(DecisionMsg{Src: l.self, Slot: m.Slot, Command: cmd})
}

func (l *Leader) onPreempted(m Preempted) Outbox {
	if !l.cluster.isAcceptor(m.Src) {
		return nil
	}
	if m.Ballot.LessEqual(l.ballot) {
		return nil // not actually higher: stale, drop silently
	}
	if m.Ballot.Round > l.maxRoundSeen {
		l.maxRoundSeen = m.Ballot.Round
	}
	switch l.mode {
	case ModePhase1:
		l.goInactive()
	case ModeActive:
		// Discard inflight Phase2 trackers but keep proposals, so the
		// next election re-attempts them.
		l.inflightBal = make(map[Slot]BallotNumber)
		l.p2bFrom = make(map[Slot]map[NodeId]struct{})
		l.goInactive()
	}
	return nil
}

func (l *Leader) goInactive() {
	l.mode = ModeInactive
	if l.metrics != nil {
		l.metrics.Preempted()
	}
}

// onPropose handles a replica's request to drive a command through a
// slot. First-writer-wins: a slot already committed at this leader
// ignores later proposals for it.
func (l *Leader) onPropose(m Propose) Outbox {
	if !l.cluster.isReplica(m.Src) {
		return nil
	}
	if _, found := l.proposals[m.Slot]; found {
		return nil
	}
	l.proposals[m.Slot] = m.Command
	if l.mode == ModeActive {
		return l.startCommander(m.Slot)
	}
	// Phase1 or Inactive: Commander runs after adoption/re-election.
	return nil
}

// handleTick drives retries:
// a new election with exponential backoff + jitter while Inactive, P1a
// re-sends at the same ballot while a Phase1 answer is outstanding, and
// P2a re-sends for every inflight slot while Active.
func (l *Leader) handleTick(now time.Time) Outbox {
	switch l.mode {
	case ModeInactive:
		if l.nextPhase1Attempt.IsZero() || !now.Before(l.nextPhase1Attempt) {
			out := l.Boot()
			l.nextPhase1Attempt = now.Add(l.backoffAdvance())
			return out
		}
		return nil
	case ModePhase1:
		if l.lastPhase1Send.IsZero() || now.Sub(l.lastPhase1Send) >= l.resendEvery {
			l.lastPhase1Send = now
			return l.broadcastToAcceptors(P1a{Src: l.self, Ballot: l.ballot})
		}
		return nil
	case ModeActive:
		if l.lastPhase2Send.IsZero() || now.Sub(l.lastPhase2Send) >= l.resendEvery {
			l.lastPhase2Send = now
			var out Outbox
			for slot := range l.inflightBal {
				out = append(out, l.broadcastToAcceptors(P2a{Src: l.self, Ballot: l.ballot, Slot: slot, Command: l.proposals[slot]})...)
			}
			return out
		}
		return nil
	default:
		return nil
	}
}

func (l *Leader) backoffBounds() (time.Duration, time.Duration) {
	min, max := l.cluster.Backoff.Min, l.cluster.Backoff.Max
	if min <= 0 {
		min = DefaultBackoffParams.Min
	}
	if max < min {
		max = min
	}
	return min, max
}

// backoffAdvance returns the jittered interval before the next election
// attempt and doubles the underlying period up to Backoff.Max. The
// returned value stays within [Backoff.Min, Backoff.Max].
func (l *Leader) backoffAdvance() time.Duration {
	min, max := l.backoffBounds()
	if l.backoffPeriod < min {
		l.backoffPeriod = min
	}
	d := min
	if span := int64(l.backoffPeriod - min); span > 0 {
		d += time.Duration(l.rng.Int63n(span + 1))
	}
	l.backoffPeriod *= 2
	if l.backoffPeriod > max {
		l.backoffPeriod = max
	}
	return d
}

// backoffShrink halves the period back towards Backoff.Min once an
// adoption lands.
func (l *Leader) backoffShrink() {
	min, _ := l.backoffBounds()
	l.backoffPeriod /= 2
	if l.backoffPeriod < min {
		l.backoffPeriod = min
	}
}

func (l *Leader) broadcastToAcceptors(m Message) Outbox {
	out := make(Outbox, 0, len(l.cluster.Acceptors))
	for _, a := range l.cluster.Acceptors {
		out = append(out, Envelope{Dest: a, Message: m})
	}
	return out
}

func (l *Leader) broadcastToReplicas(m Message) Outbox {
	out := make(Outbox, 0, len(l.cluster.Replicas))
	for _, r := range l.cluster.Replicas {
		out = append(out, Envelope{Dest: r, Message: m})
	}
	return out
}
