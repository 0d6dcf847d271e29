package usecase

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/tracer"
	"avatarbot/internal/usecase/eventbus"
)

// Advisory replies returned when an optional capability is not configured.
// These are normal outcomes, not errors.
const (
	VisionDisabledReply = "Vision capability not enabled."
	VoiceDisabledReply  = "Voice capability not enabled."
)

// Fixed instructions passed to the vision backend.
const (
	describeImagePrompt = "Describe this image"
	describeVideoPrompt = "Describe this video"
)

// DefaultGreeting is used when the default persona has no greeting of its own.
const DefaultGreeting = "Hello! I am ready."

// ErrMissingDependency is returned by NewBot when a required backend is nil.
var ErrMissingDependency = errors.New("bot: required dependency missing")

// Bot dispatches one inbound Input per call to the matching capability and
// runs text through the persona + memory + LLM pipeline. All backends are set
// at construction and never mutated, so a Bot is safe for concurrent use.
type Bot struct {
	llm      domain.LLMClient
	personas domain.PersonaRegistry
	memory   domain.MemoryStore  // optional
	vision   domain.VisionClient // optional
	voice    domain.VoiceClient  // optional
	bus      domain.EventBus     // optional
	locks    *SessionLocker      // optional
	logger   *slog.Logger
}

// BotOption configures optional Bot backends.
type BotOption func(*Bot)

// WithMemory enables per-session history.
func WithMemory(m domain.MemoryStore) BotOption { return func(b *Bot) { b.memory = m } }

// WithVision enables image and video inputs.
func WithVision(v domain.VisionClient) BotOption { return func(b *Bot) { b.vision = v } }

// WithVoice enables audio inputs.
func WithVoice(v domain.VoiceClient) BotOption { return func(b *Bot) { b.voice = v } }

// WithEventBus publishes turn lifecycle events to bus.
func WithEventBus(bus domain.EventBus) BotOption { return func(b *Bot) { b.bus = bus } }

// WithSessionLocking runs turns of the same session one at a time.
func WithSessionLocking() BotOption { return func(b *Bot) { b.locks = NewSessionLocker() } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) BotOption { return func(b *Bot) { b.logger = l } }

// NewBot creates a Bot. llm and personas are required.
func NewBot(llm domain.LLMClient, personas domain.PersonaRegistry, opts ...BotOption) (*Bot, error) {
	if llm == nil {
		return nil, domain.NewDomainError("NewBot", ErrMissingDependency, "llm client")
	}
	if personas == nil {
		return nil, domain.NewDomainError("NewBot", ErrMissingDependency, "persona registry")
	}
	b := &Bot{llm: llm, personas: personas}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// Greeting returns the default persona's greeting, or DefaultGreeting.
func (b *Bot) Greeting() string {
	if g := b.personas.Default().Greeting; g != nil {
		return *g
	}
	return DefaultGreeting
}

// HandleMessage processes one turn for sessionID and returns the reply text.
func (b *Bot) HandleMessage(ctx context.Context, sessionID string, input domain.Input, userID *string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "bot.handle_message",
		trace.WithAttributes(
			tracer.StringAttr("bot.session", sessionID),
			tracer.StringAttr("bot.modality", string(input.Kind())),
		),
	)
	defer span.End()

	log := b.logger.With("session", sessionID, "modality", string(input.Kind()))
	log.Debug("handling message")
	b.publish(ctx, domain.EventMessageReceived, sessionID, map[string]string{"modality": string(input.Kind())})

	reply, err := b.turn(ctx, log, sessionID, input, userID)
	if err != nil {
		tracer.RecordError(span, err)
		log.Error("turn failed", "error", err, "code", string(domain.ErrorCodeOf(err)))
		b.publish(ctx, domain.EventMessageFailed, sessionID, map[string]string{
			"modality": string(input.Kind()),
			"error":    err.Error(),
		})
		return "", err
	}

	tracer.SetOK(span)
	b.publish(ctx, domain.EventMessageReplied, sessionID, map[string]any{
		"modality": string(input.Kind()),
		"length":   len(reply),
	})
	return reply, nil
}

func (b *Bot) turn(ctx context.Context, log *slog.Logger, sessionID string, input domain.Input, userID *string) (string, error) {
	if b.locks != nil {
		unlock, err := b.locks.Lock(ctx, sessionID)
		if err != nil {
			return "", err
		}
		defer unlock()
	}
	return b.dispatch(ctx, log, sessionID, input, userID)
}

func (b *Bot) dispatch(ctx context.Context, log *slog.Logger, sessionID string, input domain.Input, userID *string) (string, error) {
	switch input.Kind() {
	case domain.ModalityText:
		return b.handleText(ctx, log, sessionID, input.Text(), userID)

	case domain.ModalityImage:
		if b.vision == nil {
			return b.capabilityAbsent(ctx, log, sessionID, "vision"), nil
		}
		desc, err := b.vision.AnalyzeImage(ctx, input.Ref(), describeImagePrompt)
		return desc, domain.WrapOp("bot.image", err)

	case domain.ModalityVideo:
		if b.vision == nil {
			return b.capabilityAbsent(ctx, log, sessionID, "vision"), nil
		}
		desc, err := b.vision.AnalyzeVideo(ctx, input.Ref(), describeVideoPrompt)
		return desc, domain.WrapOp("bot.video", err)

	case domain.ModalityAudio:
		if b.voice == nil {
			return b.capabilityAbsent(ctx, log, sessionID, "voice"), nil
		}
		transcript, err := b.voice.SpeechToText(ctx, input.Audio())
		if err != nil {
			return "", domain.WrapOp("bot.audio", err)
		}
		log.Debug("audio transcribed", "chars", len(transcript))
		return b.handleText(ctx, log, sessionID, transcript, userID)

	default:
		return "", input.Validate()
	}
}

func (b *Bot) capabilityAbsent(ctx context.Context, log *slog.Logger, sessionID, capability string) string {
	log.Info("capability not configured", "capability", capability)
	b.publish(ctx, domain.EventCapabilityAbsent, sessionID, map[string]string{"capability": capability})
	if capability == "voice" {
		return VoiceDisabledReply
	}
	return VisionDisabledReply
}

// handleText runs the persona + memory + LLM pipeline. The user message is
// persisted before history is read so the reply always sees it.
func (b *Bot) handleText(ctx context.Context, log *slog.Logger, sessionID, text string, userID *string) (string, error) {
	persona := b.personas.Default()
	userMsg := domain.UserMessage(text, userID)

	var convo []domain.Message
	if b.memory != nil {
		if err := b.memory.AddMessage(ctx, sessionID, userMsg); err != nil {
			return "", domain.WrapOp("bot.store_user", err)
		}
		history, err := b.memory.GetHistory(ctx, sessionID)
		if err != nil {
			return "", domain.WrapOp("bot.history", err)
		}
		convo = make([]domain.Message, 0, len(history)+1)
		convo = append(convo, domain.SystemMessage(persona.SystemPrompt))
		convo = append(convo, history...)
	} else {
		convo = []domain.Message{domain.SystemMessage(persona.SystemPrompt), userMsg}
	}

	log.Debug("calling llm", "persona", persona.Name, "messages", len(convo))
	reply, err := b.llm.Chat(ctx, convo)
	if err != nil {
		return "", domain.WrapOp("bot.chat", err)
	}

	if b.memory != nil {
		if err := b.memory.AddMessage(ctx, sessionID, domain.AssistantMessage(reply)); err != nil {
			log.Warn("reply dropped: assistant message not persisted", "reply_len", len(reply), "error", err)
			return "", domain.WrapOp("bot.store_reply", err)
		}
	}
	return reply, nil
}

func (b *Bot) publish(ctx context.Context, t domain.EventType, sessionID string, payload any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(ctx, eventbus.NewEvent(t, sessionID, payload))
}
