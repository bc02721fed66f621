// Package metrics provides prometheus-backed implementations of
// paxos.LeaderMetrics and paxos.ReplicaMetrics: a small struct of
// already-registered prometheus collectors, updated inline at the call
// sites that changed state, nil-checked so metrics remain entirely
// optional for callers who construct a Leader/Replica without one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/erewok/multifaustus/paxos"
)

// LeaderMetrics is the concrete paxos.LeaderMetrics implementation.
type LeaderMetrics struct {
	Rounds    prometheus.Gauge
	Adoptions prometheus.Counter
	Preempts  prometheus.Counter
	Decisions prometheus.Counter
}

var _ paxos.LeaderMetrics = (*LeaderMetrics)(nil)

// NewLeaderMetrics constructs and registers a LeaderMetrics set under
// reg, labeled with this node's identity so multiple leaders in one
// process (as the demo harness runs) don't collide.
func NewLeaderMetrics(reg prometheus.Registerer, self paxos.NodeId) *LeaderMetrics {
	labels := prometheus.Labels{"node": self.String()}
	lm := &LeaderMetrics{
		Rounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "multifaustus",
			Subsystem:   "leader",
			Name:        "ballot_round",
			Help:        "Current ballot round this leader has proposed.",
			ConstLabels: labels,
		}),
		Adoptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multifaustus",
			Subsystem:   "leader",
			Name:        "adoptions_total",
			Help:        "Number of times this leader reached Active mode.",
			ConstLabels: labels,
		}),
		Preempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multifaustus",
			Subsystem:   "leader",
			Name:        "preemptions_total",
			Help:        "Number of times this leader was preempted by a higher ballot.",
			ConstLabels: labels,
		}),
		Decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multifaustus",
			Subsystem:   "leader",
			Name:        "decisions_total",
			Help:        "Number of slots this leader drove to a quorum-backed decision.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(lm.Rounds, lm.Adoptions, lm.Preempts, lm.Decisions)
	}
	return lm
}

func (lm *LeaderMetrics) BallotAdvanced(round uint64) { lm.Rounds.Set(float64(round)) }
func (lm *LeaderMetrics) Adopted()                    { lm.Adoptions.Inc() }
func (lm *LeaderMetrics) Preempted()                  { lm.Preempts.Inc() }
func (lm *LeaderMetrics) Decided()                    { lm.Decisions.Inc() }

// ReplicaMetrics is the concrete paxos.ReplicaMetrics implementation.
type ReplicaMetrics struct {
	AppliedTotal  prometheus.Counter
	RequeuedTotal prometheus.Counter
}

var _ paxos.ReplicaMetrics = (*ReplicaMetrics)(nil)

// NewReplicaMetrics constructs and registers a ReplicaMetrics set under reg.
func NewReplicaMetrics(reg prometheus.Registerer, self paxos.NodeId) *ReplicaMetrics {
	labels := prometheus.Labels{"node": self.String()}
	rm := &ReplicaMetrics{
		AppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multifaustus",
			Subsystem:   "replica",
			Name:        "applied_total",
			Help:        "Number of decided commands this replica has applied.",
			ConstLabels: labels,
		}),
		RequeuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multifaustus",
			Subsystem:   "replica",
			Name:        "requeued_total",
			Help:        "Number of proposals this replica had to requeue after losing a slot.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(rm.AppliedTotal, rm.RequeuedTotal)
	}
	return rm
}

func (rm *ReplicaMetrics) Applied(_ paxos.Slot) { rm.AppliedTotal.Inc() }
func (rm *ReplicaMetrics) Requeued()            { rm.RequeuedTotal.Inc() }
