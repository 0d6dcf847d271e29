package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 60 * time.Second
	defaultCBInterval    time.Duration = 30 * time.Second
)

// CircuitBreakerClient wraps a chat backend so that once it fails repeatedly
// calls fail fast until the open period elapses. It never retries and never
// routes to another backend.
type CircuitBreakerClient struct {
	name    string
	inner   domain.LLMClient
	breaker *gobreaker.CircuitBreaker[string]
}

var _ domain.LLMClient = (*CircuitBreakerClient)(nil)

// NewCircuitBreakerClient wraps inner. Zero fields in cfg take defaults.
func NewCircuitBreakerClient(name string, inner domain.LLMClient, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // one probe while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", breaker,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerClient{name: name, inner: inner, breaker: cb}
}

// Chat implements domain.LLMClient.
func (c *CircuitBreakerClient) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	reply, err := c.breaker.Execute(func() (string, error) {
		return c.inner.Chat(ctx, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("provider %q circuit open: %w: %w", c.name, domain.ErrProviderError, err)
	}
	return reply, err
}

// Name returns the wrapped provider name.
func (c *CircuitBreakerClient) Name() string { return c.name }

// State returns the current breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State { return c.breaker.State() }

// Counts returns the current breaker counters.
func (c *CircuitBreakerClient) Counts() gobreaker.Counts { return c.breaker.Counts() }
