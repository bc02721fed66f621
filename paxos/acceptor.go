package paxos

// Mutation is the durable delta an Acceptor step produced. The driver
// must persist a Changed Mutation before delivering the accompanying
// Outbox: a promise or acceptance that was never written down is a
// promise the acceptor cannot be trusted to remember after a restart.
// Because this core is sans-IO it cannot perform that write itself; it
// just reports what changed.
type Mutation struct {
	// Changed is false when the step produced no durable delta (e.g. a
	// stale or duplicate message was dropped). The driver need not touch
	// storage in that case.
	Changed bool

	Promised BallotNumber
	Accepted map[Slot]PValue
}

// Acceptor is the passive safety store of MultiPaxos. It only
// ever grows its promised ballot and accepted set; it never initiates a
// message, never retries, and never reads a clock.
type Acceptor struct {
	self          NodeId
	promised      BallotNumber
	accepted      map[Slot]PValue
	isKnownSender func(NodeId) bool
}

// NewAcceptor creates an acceptor booting with no prior durable state.
func NewAcceptor(self NodeId) *Acceptor {
	return &Acceptor{
		self:     self,
		promised: BallotZero,
		accepted: make(map[Slot]PValue),
	}
}

// SetSenderFilter restricts P1a/P2a handling to senders f accepts, dropping
// anything else silently. A nil filter (the
// default after NewAcceptor/RestoreAcceptor) accepts from any sender,
// since the acceptor can be constructed before its cluster membership is
// known; a driver wires in ClusterConfig.IsLeader once membership is
// available.
func (a *Acceptor) SetSenderFilter(f func(NodeId) bool) {
	a.isKnownSender = f
}

// RestoreAcceptor recreates an acceptor from a durable snapshot loaded by
// the driver. A restarted acceptor must reload its last snapshot before
// handling any message, or it could promise below a ballot it already
// promised in an earlier life.
func RestoreAcceptor(self NodeId, promised BallotNumber, accepted map[Slot]PValue) *Acceptor {
	a := &Acceptor{self: self, promised: promised, accepted: make(map[Slot]PValue, len(accepted))}
	for s, pv := range accepted {
		a.accepted[s] = pv
	}
	return a
}

// Promised returns the acceptor's currently promised ballot.
func (a *Acceptor) Promised() BallotNumber { return a.promised }

// Accepted returns a copy of the acceptor's accepted pvalue set, one
// entry per slot. Only the highest-ballot pvalue per slot is retained;
// that is the only one a future leader's reconciliation can ever select.
func (a *Acceptor) Accepted() []PValue {
	out := make([]PValue, 0, len(a.accepted))
	for _, pv := range a.accepted {
		out = append(out, pv)
	}
	return out
}

// Step processes one P1a or P2a input and returns the outbound reply (if
// any) plus the Mutation the driver must persist before sending it. Any
// other message kind, or a Tick, is a no-op: the acceptor is purely
// reactive and never retries anything on its own.
func (a *Acceptor) Step(input Input) (Outbox, Mutation) {
	msg, ok := input.(MessageInput)
	if !ok {
		return nil, Mutation{}
	}
	if a.isKnownSender != nil && !a.isKnownSender(msg.Msg.From()) {
		return nil, Mutation{} // unknown sender
	}
	switch m := msg.Msg.(type) {
	case P1a:
		return a.handleP1a(m)
	case P2a:
		return a.handleP2a(m)
	default:
		return nil, Mutation{}
	}
}

func (a *Acceptor) handleP1a(m P1a) (Outbox, Mutation) {
	if m.Ballot.LessEqual(a.promised) {
		return a.preemptedReply(m.Src), Mutation{}
	}
	// m.Ballot > a.promised: a new, higher promise.
	a.promised = m.Ballot
	return Outbox{{Dest: m.Src, Message: P1b{Src: a.self, Ballot: a.promised, Accepted: a.Accepted()}}},
		Mutation{Changed: true, Promised: a.promised, Accepted: a.snapshotAccepted()}
}

func (a *Acceptor) handleP2a(m P2a) (Outbox, Mutation) {
	if m.Ballot.Less(a.promised) {
		return a.preemptedReply(m.Src), Mutation{}
	}
	// Accepting at m.Ballot is also a promise at m.Ballot: a stored
	// pvalue's ballot must never exceed the promised ballot.
	changed := false
	if a.promised.Less(m.Ballot) {
		a.promised = m.Ballot
		changed = true
	}
	pv := PValue{Ballot: m.Ballot, Slot: m.Slot, Command: m.Command}
	existing, found := a.accepted[m.Slot]
	if !found || existing.Ballot.LessEqual(m.Ballot) {
		a.accepted[m.Slot] = pv
		changed = true
	}
	reply := Outbox{{Dest: m.Src, Message: P2b{Src: a.self, Ballot: m.Ballot, Slot: m.Slot}}}
	if !changed {
		return reply, Mutation{}
	}
	return reply, Mutation{Changed: true, Promised: a.promised, Accepted: a.snapshotAccepted()}
}

func (a *Acceptor) preemptedReply(dest NodeId) Outbox {
	return Outbox{{Dest: dest, Message: Preempted{Src: a.self, Ballot: a.promised}}}
}

func (a *Acceptor) snapshotAccepted() map[Slot]PValue {
	out := make(map[Slot]PValue, len(a.accepted))
	for s, pv := range a.accepted {
		out[s] = pv
	}
	return out
}
