package memory

import (
	"context"
	"slices"
	"sync"

	"avatarbot/internal/domain"
)

// InMemoryStore keeps history in process memory. It is lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
}

var _ domain.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]domain.Message)}
}

// GetHistory returns a copy of the session's messages in insertion order.
func (s *InMemoryStore) GetHistory(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions[sessionID]), nil
}

// AddMessage appends msg to the session.
func (s *InMemoryStore) AddMessage(_ context.Context, sessionID string, msg domain.Message) error {
	if msg.UserID != nil {
		msg.UserID = domain.StringPtr(*msg.UserID)
	}
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	s.mu.Unlock()
	return nil
}

// Sessions returns the number of sessions with history.
func (s *InMemoryStore) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
