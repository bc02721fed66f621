// Package backoff provides a doubling, jittered retry interval for
// driver-level plumbing; cmd/demo's openDurableStore retries a failed
// LMDB open with it. The sans-IO paxos core computes its own doubling
// jitter inline (paxos.Leader.backoffAdvance) since it must stay free
// of any non-core import.
package backoff

import (
	"math/rand"
	"time"
)

// Engine tracks a doubling backoff period, handing out a jittered
// duration in [0, period] on each Advance, and halving the period again
// on Shrink once the caller sees things recover.
type Engine struct {
	rng    *rand.Rand
	min    time.Duration
	max    time.Duration
	period time.Duration

	Cur time.Duration
}

// New creates an Engine bounded by [min, max]. Returns nil if min <= 0.
func New(rng *rand.Rand, min, max time.Duration) *Engine {
	if min <= 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Engine{
		rng:    rng,
		min:    min,
		max:    max,
		period: min,
	}
}

// Advance doubles the period (capped at max), draws a new jittered
// Cur from the new period, and returns the PREVIOUS Cur value. The new
// wait is Cur, which is what After uses.
func (e *Engine) Advance() time.Duration {
	oldCur := e.Cur
	e.period *= 2
	if e.period > e.max {
		e.period = e.max
	}
	e.Cur = time.Duration(e.rng.Int63n(int64(e.period) + 1))
	return oldCur
}

// After runs fun immediately if the current jittered duration is zero,
// otherwise schedules it via time.AfterFunc.
func (e *Engine) After(fun func()) *time.Timer {
	if e.Cur == 0 {
		fun()
		return nil
	}
	return time.AfterFunc(e.Cur, fun)
}

// Shrink halves the period back towards min, rounding Cur down to zero
// once it falls at or below roundToZero, so a recovered connection stops
// paying jitter tax on its very next retry.
func (e *Engine) Shrink(roundToZero time.Duration) {
	e.period /= 2
	if e.period < e.min {
		e.period = e.min
	}
	e.Cur = time.Duration(e.rng.Int63n(int64(e.period) + 1))
	if e.Cur <= roundToZero {
		e.Cur = 0
	}
}
