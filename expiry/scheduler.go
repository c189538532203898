// Package expiry arms per-key invalidation timers for cache backends that have
// no native way to expire a single write.
package expiry

import (
	"sync"
	"time"
)

type pending struct {
	timer *time.Timer
}

// Scheduler keeps at most one pending timer per key. Scheduling a key that
// already has a timer replaces it, so only the most recent deadline applies.
//
// All bookkeeping and every fire callback run under a single mutex: a timer
// that lost the race against a newer Schedule or Cancel for the same key finds
// its entry replaced and returns without calling onFire. Callbacks must not
// call back into the Scheduler.
type Scheduler[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*pending
	stopped bool
}

// New returns an empty Scheduler.
func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{entries: make(map[K]*pending)}
}

// Schedule arms a timer that calls onFire(key) once ttl has elapsed,
// cancelling any timer already pending for key.
func (s *Scheduler[K]) Schedule(key K, ttl time.Duration, onFire func(K)) {
	s.ScheduleWith(key, ttl, nil, onFire)
}

// ScheduleWith runs write and, if it reports success, arms the timer for key,
// both while holding the scheduler lock. No fire for key can interleave
// between the write and the arming, so a value written here is never removed
// by an older deadline. Returns the result of write (true when write is nil).
func (s *Scheduler[K]) ScheduleWith(key K, ttl time.Duration, write func() bool, onFire func(K)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if write != nil && !write() {
		return false
	}
	s.cancelLocked(key)
	if s.stopped {
		return true
	}
	p := &pending{}
	s.entries[key] = p
	p.timer = time.AfterFunc(ttl, func() { s.fire(key, p, onFire) })
	return true
}

func (s *Scheduler[K]) fire(key K, p *pending, onFire func(K)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[key] != p {
		return
	}
	delete(s.entries, key)
	if onFire != nil {
		onFire(key)
	}
}

func (s *Scheduler[K]) cancelLocked(key K) bool {
	p, ok := s.entries[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.entries, key)
	return true
}

// Cancel drops the pending timer for key and reports whether there was one.
func (s *Scheduler[K]) Cancel(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

// CancelWith runs write under the scheduler lock and, if it reports success,
// cancels the pending timer for key, so an earlier deadline cannot remove
// what write stored. A nil write always cancels.
func (s *Scheduler[K]) CancelWith(key K, write func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if write != nil && !write() {
		return false
	}
	s.cancelLocked(key)
	return true
}

// Scheduled reports whether key has a pending timer.
func (s *Scheduler[K]) Scheduled(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Pending returns the number of armed timers.
func (s *Scheduler[K]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop abandons every pending timer. Writes through ScheduleWith still run
// after Stop but no longer arm a timer.
func (s *Scheduler[K]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.entries {
		p.timer.Stop()
		delete(s.entries, key)
	}
	s.stopped = true
}
