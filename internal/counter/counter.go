// Package counter provides a fixed-window request counter keyed by an
// arbitrary string, used to guard upload throughput per tenant.
package counter

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Store counts events per key inside fixed time windows. The zero limit
// disables the guard.
type Store struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewStore creates an empty counter store.
func NewStore() *Store {
	return &Store{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one event for the key and reports whether the key is still
// within limit events per span. Expired windows reset on first touch.
func (s *Store) Allow(key string, limit int, span time.Duration) bool {
	if limit <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= span {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count <= limit
}

// Count returns the live count for a key, zero when its window expired.
func (s *Store) Count(key string, span time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || s.now().Sub(w.start) >= span {
		return 0
	}
	return w.count
}
