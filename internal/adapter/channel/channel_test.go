package channel

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"avatarbot/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type handledCall struct {
	SessionID string
	Input     domain.Input
	UserID    *string
}

// fakeHandler records calls and answers with reply (or err).
type fakeHandler struct {
	mu       sync.Mutex
	calls    []handledCall
	greeting string
	reply    func(sessionID string, in domain.Input) (string, error)
}

func (f *fakeHandler) HandleMessage(_ context.Context, sessionID string, in domain.Input, userID *string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, handledCall{SessionID: sessionID, Input: in, UserID: userID})
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(sessionID, in)
	}
	return "echo:" + in.Text(), nil
}

func (f *fakeHandler) Greeting() string {
	if f.greeting == "" {
		return "Hello! I am ready."
	}
	return f.greeting
}

func (f *fakeHandler) Calls() []handledCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]handledCall(nil), f.calls...)
}
