package pending

import (
	"sync"
	"time"
)

// SeenSet remembers message ids for a while so a reused id is rejected even
// after its context has been consumed.
type SeenSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewSeenSet creates a set whose entries expire after ttl. With a ttl of
// zero entries never expire.
func NewSeenSet(ttl time.Duration, now func() time.Time) *SeenSet {
	if now == nil {
		now = time.Now
	}
	return &SeenSet{ttl: ttl, now: now, seen: make(map[string]time.Time)}
}

// Add records key and reports whether it was new.
func (s *SeenSet) Add(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.seen[key]; ok && (s.ttl <= 0 || now.Sub(at) <= s.ttl) {
		return false
	}
	s.seen[key] = now
	return true
}

// Contains reports whether key was added and has not expired.
func (s *SeenSet) Contains(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.seen[key]
	return ok && (s.ttl <= 0 || now.Sub(at) <= s.ttl)
}

// Remove forgets key so it can be used again.
func (s *SeenSet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
}

// Sweep drops expired keys and returns how many were removed.
func (s *SeenSet) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, key)
			n++
		}
	}
	return n
}

// Len returns the number of remembered keys.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
