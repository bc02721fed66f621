package paxos

import "github.com/erewok/multifaustus/internal/status"

// Status renders a human-readable snapshot of the acceptor.
func (a *Acceptor) Status(sc *status.Consumer) {
	sc.Emitf("Acceptor %v", a.self)
	sc.Emitf("- Promised: %v", a.promised)
	sc.Emitf("- Accepted slots: %d", len(a.accepted))
}

// Status renders a human-readable snapshot of the leader.
func (l *Leader) Status(sc *status.Consumer) {
	sc.Emitf("Leader %v", l.self)
	sc.Emitf("- Mode: %v", l.mode)
	sc.Emitf("- Ballot: %v", l.ballot)
	sc.Emitf("- Proposals: %d", len(l.proposals))
	sc.Emitf("- Inflight Phase2 slots: %d", len(l.inflightBal))
}

// Status renders a human-readable snapshot of the replica.
func (r *Replica) Status(sc *status.Consumer) {
	sc.Emitf("Replica %v", r.self)
	sc.Emitf("- slot_in: %d, slot_out: %d", r.slotIn, r.slotOut)
	sc.Emitf("- Pending requests: %d", len(r.requests))
	sc.Emitf("- Outstanding proposals: %d", len(r.proposals))
	sc.Emitf("- Known decisions: %d", len(r.decisions))
	if r.halted {
		sc.Emitf("- HALTED: %v", r.haltedErr)
	}
}
