package storage

import (
	"context"
	"sync"

	"github.com/shindakun/authweb/internal/models"
)

// MemoryTokenStore keeps tokens in process memory. Tokens are lost on restart.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]models.Tokens
}

// NewMemoryTokenStore returns an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]models.Tokens)}
}

func (s *MemoryTokenStore) LoadTokens(_ context.Context, sessionID string) (*models.Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[sessionID]
	if !ok {
		return nil, ErrNoTokens
	}
	return &t, nil
}

func (s *MemoryTokenStore) SaveTokens(_ context.Context, sessionID string, tokens *models.Tokens) error {
	if err := checkSave(sessionID, tokens); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[sessionID] = *tokens
	return nil
}

func (s *MemoryTokenStore) DeleteTokens(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, sessionID)
	return nil
}
