// Package timer provides a per-key, one-tick-per-second countdown scheduler.
//
// Every timed stage of a tournament (preparation, performance, voting and the
// pre-start countdown) is driven by a Scheduler. A Scheduler knows nothing about
// tournaments or rooms; callers identify timers by an opaque owner key.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showdown/go/internal/apperrors"
	"github.com/rs/zerolog/log"
)

// ErrInvalidDuration is returned when a timer is started with a non-positive duration.
var ErrInvalidDuration = apperrors.InvalidInput("timer duration must be positive")

// TickFunc observes every tick of every timer owned by a Scheduler. It is used for
// broadcasting only and must not drive state transitions.
type TickFunc func(key string, remaining int)

// entry is the retained state of one key. A paused entry has no ticker.
type entry struct {
	remaining int
	running   bool
	ticker    clockwork.Ticker
	stop      chan struct{}
	onExpire  func()
}

// Scheduler owns the live timers of one running tournament.
type Scheduler struct {
	clock  clockwork.Clock
	onTick TickFunc

	mu      sync.Mutex
	entries map[string]*entry
}

// NewScheduler creates a scheduler ticking on clock. onTick may be nil.
func NewScheduler(clock clockwork.Clock, onTick TickFunc) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if onTick == nil {
		onTick = func(string, int) {}
	}
	return &Scheduler{
		clock:   clock,
		onTick:  onTick,
		entries: make(map[string]*entry),
	}
}

// Start begins a countdown of seconds for key, replacing any existing timer for key.
// onExpire runs exactly once when the countdown reaches zero.
func (s *Scheduler) Start(key string, seconds int, onExpire func()) error {
	if seconds <= 0 {
		return ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		existing.halt()
		log.Debug().Str("timer_key", key).Msg("replaced existing timer")
	}
	s.launch(key, &entry{remaining: seconds, onExpire: onExpire})
	return nil
}

// Pause freezes the timer for key and returns the remaining seconds.
// It returns false when key has no running timer.
func (s *Scheduler) Pause(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.running {
		return 0, false
	}
	e.halt()
	return e.remaining, true
}

// Resume restarts a paused timer from its frozen remaining value. onExpire replaces
// the callback supplied to Start. It returns false when key is not paused.
func (s *Scheduler) Resume(key string, onExpire func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.running {
		return false
	}
	s.launch(key, &entry{remaining: e.remaining, onExpire: onExpire})
	return true
}

// Stop cancels the timer for key and discards its state. Stopping an absent key is a no-op.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.halt()
		delete(s.entries, key)
	}
}

// StopAll cancels every timer owned by the scheduler.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		e.halt()
		delete(s.entries, key)
	}
}

// Remaining returns the remaining seconds of a running or paused timer.
func (s *Scheduler) Remaining(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return e.remaining, true
}

// Len returns the number of retained timers, paused ones included.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// launch registers e under key and starts its ticking goroutine. Caller holds s.mu.
func (s *Scheduler) launch(key string, e *entry) {
	e.running = true
	e.stop = make(chan struct{})
	e.ticker = s.clock.NewTicker(time.Second)
	s.entries[key] = e
	go s.run(key, e)
}

func (s *Scheduler) run(key string, e *entry) {
	for {
		select {
		case <-e.stop:
			return
		case <-e.ticker.Chan():
		}

		s.mu.Lock()
		if cur, ok := s.entries[key]; !ok || cur != e || !e.running {
			// replaced, paused or stopped between the tick and the lock
			s.mu.Unlock()
			return
		}
		e.remaining--
		remaining := e.remaining
		if remaining > 0 {
			s.mu.Unlock()
			s.onTick(key, remaining)
			continue
		}

		// Clear before the callback so it can start a new timer for the same key.
		e.halt()
		delete(s.entries, key)
		s.mu.Unlock()

		log.Debug().Str("timer_key", key).Msg("timer expired")
		if e.onExpire != nil {
			e.onExpire()
		}
		return
	}
}

// halt stops ticking. Caller holds the scheduler lock.
func (e *entry) halt() {
	if !e.running {
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stop)
}
