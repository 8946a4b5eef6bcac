package challenge

import (
	"sync"
	"time"

	"storefront/internal/domain"
)

// Store keeps at most one in-flight challenge per session.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]*domain.ChallengeState
}

func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, m: make(map[string]*domain.ChallengeState)}
}

func (s *Store) Put(sessionID string, ch *domain.ChallengeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ch
	s.m[sessionID] = &cp
}

// Take removes and returns the session's challenge. Expired challenges are
// dropped and reported as absent.
func (s *Store) Take(sessionID string) (*domain.ChallengeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.m[sessionID]
	if !ok {
		return nil, false
	}
	delete(s.m, sessionID)
	if s.expired(ch, time.Now().UTC()) {
		return nil, false
	}
	return ch, true
}

func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
}

// Prune drops every challenge older than the TTL and returns how many went.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ch := range s.m {
		if s.expired(ch, now) {
			delete(s.m, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Store) expired(ch *domain.ChallengeState, now time.Time) bool {
	return s.ttl > 0 && now.Sub(ch.CreatedAt) > s.ttl
}
