// Package timer schedules one-shot callbacks keyed by resource.
//
// At most one callback is pending per resource: scheduling again replaces
// the earlier timer. Callbacks run on their own goroutine and must not block
// for long.
package timer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"operatorkit/internal/resource"
	"operatorkit/pkg/logging"
)

type pending struct {
	timer clock.Timer
	due   time.Time
}

// Scheduler holds per-resource one-shot timers.
type Scheduler struct {
	clock clock.WithDelayedExecution

	mu      sync.Mutex
	timers  map[resource.ID]*pending
	stopped bool
}

// New returns a Scheduler backed by the real clock.
func New() *Scheduler {
	return NewWithClock(clock.RealClock{})
}

// NewWithClock returns a Scheduler backed by clk.
func NewWithClock(clk clock.WithDelayedExecution) *Scheduler {
	return &Scheduler{
		clock:  clk,
		timers: make(map[resource.ID]*pending),
	}
}

// ScheduleOnce runs fn after delay unless it is cancelled or replaced first.
// Scheduling on a stopped Scheduler is a no-op.
func (s *Scheduler) ScheduleOnce(id resource.ID, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.timers[id]; ok {
		prev.timer.Stop()
	}

	p := &pending{due: s.clock.Now().Add(delay)}
	p.timer = s.clock.AfterFunc(delay, func() {
		// Fake clocks fire while holding their own lock, so the callback must
		// not run inline: it may read the clock or schedule again.
		go s.fire(id, p, fn)
	})
	s.timers[id] = p
}

func (s *Scheduler) fire(id resource.ID, p *pending, fn func()) {
	s.mu.Lock()
	current, ok := s.timers[id]
	if !ok || current != p || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Timer", nil, "Timer callback for %s panicked: %v", id, r)
		}
	}()
	fn()
}

// Cancel drops the timer for id, if any.
func (s *Scheduler) Cancel(id resource.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[id]; ok {
		p.timer.Stop()
		delete(s.timers, id)
	}
}

// Pending returns when the timer for id is due.
func (s *Scheduler) Pending(id resource.ID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return p.due, true
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer and rejects further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
}
