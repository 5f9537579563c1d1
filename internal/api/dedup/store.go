// Package dedup suppresses duplicate webhook event ids within a bounded
// time window.
package dedup

import (
	"sync"
	"time"
)

// Store remembers event ids for a fixed window. It backs the at-most-once
// guarantee for job creation; the database's unique event_id index covers
// duplicates that straddle a restart.
type Store struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewStore creates a store with the given dedup window.
func NewStore(window time.Duration) *Store {
	return &Store{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkIfNew records the event id and reports whether it was new within the
// window. Check-and-set under one lock, so two concurrent deliveries of the
// same id cannot both be "new".
func (s *Store) MarkIfNew(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if at, found := s.seen[eventID]; found && now.Sub(at) < s.window {
		return false
	}

	s.seen[eventID] = now
	return true
}

// Forget releases an event id so a later delivery counts as new again. Used
// when job creation fails after the id was marked: the sender's retry must
// reach storage instead of being swallowed as a duplicate.
func (s *Store) Forget(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
}

// Sweep drops expired ids. Run it periodically so the map stays bounded by
// the event rate within one window.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	for id, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, id)
		}
	}
}

// StartSweeper sweeps on the given interval until stop is closed.
func (s *Store) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Len reports the number of tracked ids, expired included until swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
