package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"avatarbot/internal/domain"
)

// anyEvent is the subscription key for handlers registered with SubscribeAll.
const anyEvent domain.EventType = "*"

type subscriber struct {
	id uint64
	fn domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run on their own
// goroutines so a slow subscriber never delays a conversation turn.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscriber
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[domain.EventType][]subscriber),
		logger: logger,
	}
}

// Publish delivers event to its typed subscribers and to every SubscribeAll handler.
// Panicking handlers are recovered and logged.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := slices.Concat(b.subs[event.Type], b.subs[anyEvent])
	b.mu.RUnlock()

	for _, s := range targets {
		b.wg.Add(1)
		go b.run(ctx, event, s.fn)
	}
}

func (b *Bus) run(ctx context.Context, event domain.Event, fn domain.EventHandler) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	fn(ctx, event)
}

// Subscribe registers a handler for one event type and returns its unsubscribe func.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event and returns its unsubscribe func.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyEvent, handler)
}

func (b *Bus) add(key domain.EventType, fn domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[key] = slices.DeleteFunc(b.subs[key], func(s subscriber) bool { return s.id == id })
	}
}

// Close stops accepting events and waits for in-flight handlers. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

// NewEvent builds an event for session with payload marshalled to JSON.
// A payload that cannot be marshalled is dropped.
func NewEvent(t domain.EventType, sessionID string, payload any) domain.Event {
	ev := domain.Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// LogEvents subscribes a handler that writes every event to logger at debug level.
func LogEvents(bus domain.EventBus, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		logger.DebugContext(ctx, "event",
			"type", string(e.Type),
			"session", e.SessionID,
			"payload", string(e.Payload),
		)
	})
}
