package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

const challengeBytes = 16

// ChallengeStore holds at most one pending challenge per connection ID.
//
// Entries are only dropped by Remove; nothing expires on its own.
type ChallengeStore struct {
	mu      sync.Mutex
	pending map[string]string
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{pending: make(map[string]string)}
}

// IssueAndStore generates a fresh challenge for id, overwriting any previous
// one, and returns its lowercase hex encoding.
func (s *ChallengeStore) IssueAndStore(id string) (string, error) {
	var b [challengeBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	challenge := hex.EncodeToString(b[:])

	s.mu.Lock()
	s.pending[id] = challenge
	s.mu.Unlock()
	return challenge, nil
}

func (s *ChallengeStore) Get(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pending[id]
	return c, ok
}

func (s *ChallengeStore) Remove(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}
