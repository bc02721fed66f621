// Package timer drives paxos.Tick inputs on a wheel: a TimerWheel
// batches scheduled callbacks, and a sleeping "beater" goroutine wakes
// periodically to advance it, stopping itself once the wheel runs dry
// rather than spinning forever.
package timer

import (
	"sync"
	"time"

	tw "github.com/msackman/gotimerwheel"
)

// Source runs scheduled callbacks off a timer wheel; the caller's
// callback emits paxos.Tick{Now: time.Now()} into a Mailbox (kept
// decoupled here so this package has no dependency on the paxos types it
// drives).
type Source struct {
	mu               sync.Mutex
	wheel            *tw.TimerWheel
	beaterTerminator chan struct{}
	granularity      time.Duration
	beat             time.Duration
}

// New creates a Source whose wheel has the given granularity (bucket
// width) and which wakes its beater goroutine every beat to advance it.
func New(granularity, beat time.Duration) *Source {
	return &Source{
		wheel:       tw.NewTimerWheel(time.Now(), granularity),
		granularity: granularity,
		beat:        beat,
	}
}

// ScheduleIn schedules fun to run after interval, starting the beater if
// it isn't already running.
func (s *Source) ScheduleIn(interval time.Duration, fun tw.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wheel.ScheduleEventIn(interval, fun); err != nil {
		panic(err)
	}
	if s.beaterTerminator == nil {
		s.beaterTerminator = make(chan struct{})
		go s.beater(s.beaterTerminator)
	}
}

// Repeating schedules fun to run every period, re-arming itself each
// time it fires, until the returned stop function is called.
func (s *Source) Repeating(period time.Duration, fun func()) (stop func()) {
	stopped := make(chan struct{})
	var again tw.Event
	again = func(*time.Time) {
		select {
		case <-stopped:
			return
		default:
		}
		fun()
		// tick holds s.mu while events run, so re-arm from another
		// goroutine once it has released the lock.
		go s.ScheduleIn(period, again)
	}
	s.ScheduleIn(period, again)
	return func() { close(stopped) }
}

func (s *Source) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wheel.AdvanceTo(time.Now(), 32)
	if s.wheel.IsEmpty() && s.beaterTerminator != nil {
		close(s.beaterTerminator)
		s.beaterTerminator = nil
	}
}

func (s *Source) beater(terminate chan struct{}) {
	for {
		time.Sleep(s.beat)
		select {
		case <-terminate:
			return
		default:
			s.tick()
		}
	}
}

// Pending reports how many callbacks are still scheduled on the wheel.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wheel.Length()
}
