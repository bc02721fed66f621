package paxos

// ReplicaMetrics are optional instrumentation hooks, nil-checked on
// every update. See internal/metrics.
type ReplicaMetrics interface {
	Applied(slot Slot)
	Requeued()
}

// Replica accepts client requests, assigns candidate slots, applies
// decisions in slot order, and responds to clients.
type Replica struct {
	self    NodeId
	cluster ClusterConfig

	slotIn  Slot
	slotOut Slot

	requests  []Command
	proposals map[Slot]Command
	decisions map[Slot]Command

	applied map[DedupKey]Response

	halted    bool
	haltedErr *IntegrityError

	metrics ReplicaMetrics
	applyFn func(Command) []byte
}

// NewReplica creates a replica with slot_in = slot_out = 1,
// applying decided commands with the given ApplyFunc. A nil ApplyFunc
// defaults to echoing the command's operation bytes back as the result,
// which is enough to exercise slot-order and dedup guarantees without any
// concrete application wired in.
func NewReplica(cfg ClusterConfig, metrics ReplicaMetrics, apply ApplyFunc) *Replica {
	if apply == nil {
		apply = echoApply
	}
	return &Replica{
		self:      cfg.Self,
		cluster:   cfg,
		slotIn:    1,
		slotOut:   1,
		proposals: make(map[Slot]Command),
		decisions: make(map[Slot]Command),
		applied:   make(map[DedupKey]Response),
		metrics:   metrics,
		applyFn:   apply,
	}
}

// ApplyFunc is the opaque application state machine a replica feeds
// decided commands to. The core imposes no semantics on Operation beyond
// that apply is deterministic given the command.
type ApplyFunc func(Command) []byte

func echoApply(c Command) []byte {
	out := make([]byte, len(c.Operation))
	copy(out, c.Operation)
	return out
}

// SlotIn, SlotOut expose the replica's slot cursors.
func (r *Replica) SlotIn() Slot  { return r.slotIn }
func (r *Replica) SlotOut() Slot { return r.slotOut }

// Halted reports whether the replica has stopped after observing
// conflicting decisions for one slot. Once halted, Step is a no-op.
func (r *Replica) Halted() (bool, *IntegrityError) { return r.halted, r.haltedErr }

// Step processes one input and returns the outbound batch it produces.
// A Tick is a no-op at the replica: it has nothing to retry on its own.
func (r *Replica) Step(input Input) Outbox {
	if r.halted {
		return nil
	}
	msg, ok := input.(MessageInput)
	if !ok {
		return nil
	}
	switch m := msg.Msg.(type) {
	case Request:
		return r.onRequest(m)
	case DecisionMsg:
		return r.onDecision(m)
	default:
		return nil
	}
}

func (r *Replica) onRequest(m Request) Outbox {
	if resp, done := r.applied[m.Command.DedupKey()]; done {
		return Outbox{{Dest: m.Command.Client, Message: resp}}
	}
	r.requests = append(r.requests, m.Command)
	return r.proposeLoop()
}

// proposeLoop claims slots while there is room in the window and pending
// requests, proposing each claimed (slot, command) to every leader,
// unless the slot is already spoken for by a decision.
func (r *Replica) proposeLoop() Outbox {
	var out Outbox
	window := r.cluster.Window
	if window <= 0 {
		window = 1
	}
	for r.slotIn < r.slotOut+Slot(window) && len(r.requests) > 0 {
		if _, taken := r.decisions[r.slotIn]; taken {
			r.slotIn++
			continue
		}
		cmd := r.requests[0]
		r.requests = r.requests[1:]
		r.proposals[r.slotIn] = cmd
		out = append(out, r.broadcastToLeaders(Propose{Src: r.self, Slot: r.slotIn, Command: cmd})...)
		r.slotIn++
	}
	return out
}

func (r *Replica) onDecision(m DecisionMsg) Outbox {
	if !r.cluster.isLeader(m.Src) {
		return nil
	}
	// Applied decisions stay in r.decisions, so a late redelivery for an
	// applied slot is still checked against the command applied there.
	if existing, found := r.decisions[m.Slot]; found {
		if !existing.Equal(m.Command) {
			r.halted = true
			r.haltedErr = &IntegrityError{Slot: m.Slot, Existing: existing, Observed: m.Command}
			return nil
		}
		return nil // duplicate decision, nothing new to do
	}
	r.decisions[m.Slot] = m.Command
	out := r.applyLoop()
	out = append(out, r.proposeLoop()...)
	return out
}

// applyLoop applies decisions in contiguous slot order, requeuing any of
// our own proposals that lost the slot to a different command. slot_out
// only ever advances over a fully-applied prefix.
func (r *Replica) applyLoop() Outbox {
	var out Outbox
	for {
		decided, found := r.decisions[r.slotOut]
		if !found {
			break
		}
		if proposed, hadProposal := r.proposals[r.slotOut]; hadProposal && !proposed.Equal(decided) {
			r.requests = append([]Command{proposed}, r.requests...)
			if r.metrics != nil {
				r.metrics.Requeued()
			}
		}
		resp := r.apply(decided)
		out = append(out, Envelope{Dest: decided.Client, Message: resp})
		delete(r.proposals, r.slotOut)
		if r.metrics != nil {
			r.metrics.Applied(r.slotOut)
		}
		r.slotOut++
	}
	return out
}

// apply runs the application state machine for one decided command,
// caching the response so a replayed request can be answered without
// re-executing.
func (r *Replica) apply(c Command) Response {
	dk := c.DedupKey()
	if resp, done := r.applied[dk]; done {
		return resp
	}
	resp := Response{RequestId: c.RequestId, Result: r.applyFn(c)}
	r.applied[dk] = resp
	return resp
}

func (r *Replica) broadcastToLeaders(m Message) Outbox {
	out := make(Outbox, 0, len(r.cluster.Leaders))
	for _, l := range r.cluster.Leaders {
		out = append(out, Envelope{Dest: l, Message: m})
	}
	return out
}
