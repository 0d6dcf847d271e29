package domain

import "context"

// MemoryStore persists per-session conversation history. GetHistory returns
// messages in the order they were added; AddMessage only appends.
type MemoryStore interface {
	GetHistory(ctx context.Context, sessionID string) ([]Message, error)
	AddMessage(ctx context.Context, sessionID string, msg Message) error
}
