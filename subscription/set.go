package subscription

import "sync"

// Set is the locally tracked active subscription set. It mirrors the control
// set in the store and is the membership filter for inbound frames.
type Set struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewSet() *Set {
	return &Set{tokens: make(map[string]struct{})}
}

// Add inserts the token and reports whether it was newly added.
func (s *Set) Add(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; ok {
		return false
	}
	s.tokens[token] = struct{}{}
	return true
}

// Remove drops the token and reports whether it was present.
func (s *Set) Remove(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; !ok {
		return false
	}
	delete(s.tokens, token)
	return true
}

func (s *Set) Contains(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// Tokens returns a snapshot of the current members in no particular order.
func (s *Set) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
