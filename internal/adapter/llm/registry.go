package llm

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

// Capabilities is the set of backends one provider exposes. Vision and
// Voice are nil when the provider has no model configured for them.
type Capabilities struct {
	Name   string
	LLM    domain.LLMClient
	Vision domain.VisionClient
	Voice  domain.VoiceClient
}

// Factory builds the capability set for one provider entry.
type Factory func(cfg config.ProviderConfig, logger *slog.Logger) (Capabilities, error)

// Registry maps provider types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates a registry with the "openai" and "mock" types registered.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{factories: make(map[string]Factory), logger: logger}
	r.factories["openai"] = openAIFactory
	r.factories["mock"] = mockFactory
	return r
}

// Register adds a factory for typ. Returns an error if typ is already registered.
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ = strings.ToLower(typ)
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("provider type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Types returns the registered provider types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Build creates the capabilities for a single provider entry.
func (r *Registry) Build(cfg config.ProviderConfig) (Capabilities, error) {
	typ := config.ProviderType(cfg)

	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return Capabilities{}, domain.NewDomainError("Registry.Build", domain.ErrProviderNotFound, typ)
	}

	caps, err := f(cfg, r.logger.With("provider", cfg.Name))
	if err != nil {
		return Capabilities{}, domain.WrapOp("Registry.Build", err)
	}
	return caps, nil
}

// Resolve builds the chat, vision and voice backends selected by cfg.
// An unknown chat provider name falls back to the mock backend with a
// warning. The circuit breaker, when enabled, wraps the chat backend only.
func (r *Registry) Resolve(cfg *config.Config) (Capabilities, error) {
	name := strings.ToLower(cfg.LLM.Provider)
	pc, ok := cfg.Provider(name)
	if !ok {
		if name != "mock" {
			r.logger.Warn("unknown llm provider, falling back to mock", "provider", cfg.LLM.Provider)
		}
		pc = config.ProviderConfig{Name: "mock", Type: "mock"}
	}

	chat, err := r.Build(pc)
	if err != nil {
		return Capabilities{}, err
	}

	out := Capabilities{Name: chat.Name, LLM: chat.LLM}
	if cfg.LLM.CircuitBreaker.Enabled {
		out.LLM = NewCircuitBreakerClient(chat.Name, chat.LLM, cfg.LLM.CircuitBreaker, r.logger)
	}

	vision, err := r.feature(cfg, cfg.Vision, chat)
	if err != nil {
		return Capabilities{}, err
	}
	out.Vision = vision.Vision

	voice, err := r.feature(cfg, cfg.Voice, chat)
	if err != nil {
		return Capabilities{}, err
	}
	out.Voice = voice.Voice

	return out, nil
}

func (r *Registry) feature(cfg *config.Config, f config.FeatureConfig, chat Capabilities) (Capabilities, error) {
	if f.Disabled {
		return Capabilities{}, nil
	}
	if f.Provider == "" || strings.EqualFold(f.Provider, chat.Name) {
		return chat, nil
	}
	pc, ok := cfg.Provider(f.Provider)
	if !ok {
		return Capabilities{}, domain.NewDomainError("Registry.Resolve", domain.ErrProviderNotFound, f.Provider)
	}
	return r.Build(pc)
}

func openAIFactory(cfg config.ProviderConfig, logger *slog.Logger) (Capabilities, error) {
	if cfg.APIKey == "" {
		return Capabilities{}, domain.NewDomainError("openai", domain.ErrMissingCredential, cfg.Name+": api_key")
	}
	c := NewOpenAIClient(cfg, logger)
	if c.model == "" {
		return Capabilities{}, domain.NewDomainError("openai", domain.ErrMissingCredential, cfg.Name+": model")
	}
	caps := Capabilities{Name: c.Name(), LLM: c}
	if c.HasVision() {
		caps.Vision = c
	}
	if c.HasVoice() {
		caps.Voice = c
	}
	return caps, nil
}

func mockFactory(cfg config.ProviderConfig, _ *slog.Logger) (Capabilities, error) {
	name := cfg.Name
	if name == "" {
		name = "mock"
	}
	return Capabilities{Name: name, LLM: MockClient{}}, nil
}
