package llm

import (
	"context"
	"fmt"

	"avatarbot/internal/domain"
)

// MockClient is an offline chat backend that echoes the newest message.
type MockClient struct{}

var _ domain.LLMClient = MockClient{}

// Chat implements domain.LLMClient.
func (MockClient) Chat(_ context.Context, messages []domain.Message) (string, error) {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return fmt.Sprintf("MockAI: I received your message: '%s'", last), nil
}

// Name returns "mock".
func (MockClient) Name() string { return "mock" }

// FuncClient adapts a plain function to domain.LLMClient.
type FuncClient func(ctx context.Context, messages []domain.Message) (string, error)

// Chat implements domain.LLMClient.
func (f FuncClient) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	return f(ctx, messages)
}

// EchoFunc returns a client replying prefix + the newest message content.
func EchoFunc(prefix string) FuncClient {
	return func(_ context.Context, messages []domain.Message) (string, error) {
		if len(messages) == 0 {
			return "", fmt.Errorf("%w: empty context", domain.ErrInvalidInput)
		}
		return prefix + messages[len(messages)-1].Content, nil
	}
}
