package domain

import "context"

// Handler is the orchestrator surface a platform talks to.
type Handler interface {
	HandleMessage(ctx context.Context, sessionID string, input Input, userID *string) (string, error)
	Greeting() string
}

// Platform is a user-facing I/O adapter. Run blocks until ctx is cancelled,
// the source ends, or an unrecoverable transport error occurs.
type Platform interface {
	Run(ctx context.Context, h Handler) error
	Name() string
}
