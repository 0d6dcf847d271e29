package memory

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/tracer"
)

// TracedStore records a span around every call to the wrapped store.
type TracedStore struct {
	inner   domain.MemoryStore
	backend string
}

var _ domain.MemoryStore = (*TracedStore)(nil)

// NewTracedStore wraps inner; backend names it in span attributes.
func NewTracedStore(inner domain.MemoryStore, backend string) *TracedStore {
	return &TracedStore{inner: inner, backend: backend}
}

// GetHistory implements domain.MemoryStore.
func (s *TracedStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	ctx, span := s.start(ctx, "memory.get_history", sessionID)
	defer span.End()

	msgs, err := s.inner.GetHistory(ctx, sessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("memory.messages", len(msgs)))
	tracer.SetOK(span)
	return msgs, nil
}

// AddMessage implements domain.MemoryStore.
func (s *TracedStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	ctx, span := s.start(ctx, "memory.add_message", sessionID)
	defer span.End()
	span.SetAttributes(tracer.StringAttr("memory.role", msg.Role))

	if err := s.inner.AddMessage(ctx, sessionID, msg); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

func (s *TracedStore) start(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, name, trace.WithAttributes(
		tracer.StringAttr("memory.backend", s.backend),
		tracer.StringAttr("memory.session", sessionID),
	))
}
