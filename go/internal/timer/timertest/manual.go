// Package timertest provides a scheduler whose timers only expire when a test says so.
package timertest

import (
	"sort"
	"sync"

	"github.com/mcdev12/showdown/go/internal/timer"
)

type pending struct {
	seconds  int
	paused   bool
	onExpire func()
}

// Manual satisfies the scheduler contract used by rooms and brackets without any clock.
type Manual struct {
	mu     sync.Mutex
	timers map[string]*pending
	starts map[string]int
}

func NewManual() *Manual {
	return &Manual{
		timers: make(map[string]*pending),
		starts: make(map[string]int),
	}
}

func (m *Manual) Start(key string, seconds int, onExpire func()) error {
	if seconds <= 0 {
		return timer.ErrInvalidDuration
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[key] = &pending{seconds: seconds, onExpire: onExpire}
	m.starts[key]++
	return nil
}

func (m *Manual) Pause(key string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.timers[key]
	if !ok || p.paused {
		return 0, false
	}
	p.paused = true
	return p.seconds, true
}

func (m *Manual) Resume(key string, onExpire func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.timers[key]
	if !ok || !p.paused {
		return false
	}
	p.paused = false
	p.onExpire = onExpire
	return true
}

func (m *Manual) Stop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, key)
}

func (m *Manual) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = make(map[string]*pending)
}

func (m *Manual) Remaining(key string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.timers[key]
	if !ok {
		return 0, false
	}
	return p.seconds, true
}

// Fire expires the running timer for key and reports whether one existed.
// The callback runs on the calling goroutine.
func (m *Manual) Fire(key string) bool {
	m.mu.Lock()
	p, ok := m.timers[key]
	if !ok || p.paused {
		m.mu.Unlock()
		return false
	}
	delete(m.timers, key)
	m.mu.Unlock()

	if p.onExpire != nil {
		p.onExpire()
	}
	return true
}

// Callback returns the expiry callback currently registered for key.
func (m *Manual) Callback(key string) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.timers[key]; ok {
		return p.onExpire
	}
	return nil
}

// Active reports whether key has a running timer.
func (m *Manual) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.timers[key]
	return ok && !p.paused
}

// Starts returns how many times a timer was started for key.
func (m *Manual) Starts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts[key]
}

// Keys returns the keys of every retained timer in sorted order.
func (m *Manual) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.timers))
	for k := range m.timers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
