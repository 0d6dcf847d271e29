package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"avatarbot/internal/adapter/channel"
	"avatarbot/internal/adapter/llm"
	"avatarbot/internal/adapter/memory"
	"avatarbot/internal/adapter/persona"
	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
	"avatarbot/internal/infra/logger"
	"avatarbot/internal/usecase"
	"avatarbot/internal/usecase/eventbus"
)

// App holds the wired bot and everything that must be released with it.
type App struct {
	Bot      *usecase.Bot
	Provider string
	Vision   bool
	Voice    bool
	Persona  string

	closers []func() error
}

// Close releases resources in reverse construction order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	app := &App{}
	fail := func(stage string, err error) (*App, error) {
		app.Close()
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	registry := llm.NewRegistry(logger.Component(log, "llm"))
	if err := registerBedrock(registry); err != nil {
		return fail("llm", err)
	}
	caps, err := registry.Resolve(cfg)
	if err != nil {
		return fail("llm", err)
	}
	app.Provider = caps.Name

	bus := eventbus.New(logger.Component(log, "eventbus"))
	app.closers = append(app.closers, func() error { bus.Close(); return nil })
	unsubscribe := eventbus.LogEvents(bus, logger.Component(log, "events"))
	app.closers = append(app.closers, func() error { unsubscribe(); return nil })

	mem, memClose, err := memory.New(ctx, cfg.Memory, logger.Component(log, "memory"))
	if err != nil {
		return fail("memory", err)
	}
	app.closers = append(app.closers, memClose)

	personas, err := persona.Load(cfg.Persona.Dir, cfg.Persona.Default)
	if err != nil {
		return fail("persona", err)
	}
	app.Persona = personas.DefaultName()
	log.Info("personas loaded", "dir", cfg.Persona.Dir, "names", strings.Join(personas.Names(), ","), "default", app.Persona)

	opts := []usecase.BotOption{
		usecase.WithEventBus(bus),
		usecase.WithLogger(logger.Component(log, "bot")),
	}
	if mem != nil {
		opts = append(opts, usecase.WithMemory(mem), usecase.WithSessionLocking())
	}
	if caps.Vision != nil {
		opts = append(opts, usecase.WithVision(caps.Vision))
		app.Vision = true
	}
	if caps.Voice != nil {
		opts = append(opts, usecase.WithVoice(caps.Voice))
		app.Voice = true
	}

	app.Bot, err = usecase.NewBot(caps.LLM, personas, opts...)
	if err != nil {
		return fail("bot", err)
	}
	return app, nil
}

// buildPlatform creates the user-facing adapter selected by cfg.Type.
// in and out are only used by the terminal platform.
func buildPlatform(cfg config.PlatformConfig, in io.Reader, out io.Writer, log *slog.Logger) (domain.Platform, error) {
	switch typ := strings.ToLower(cfg.Type); typ {
	case "", "terminal":
		return channel.NewTerminal(in, out,
			channel.WithSessionID(cfg.Terminal.SessionID),
			channel.WithMarkdown(cfg.Terminal.Markdown),
			channel.WithTerminalLogger(logger.Component(log, "terminal")),
		), nil
	case "onebot":
		return channel.NewOneBot(cfg.OneBot, logger.Component(log, "onebot")), nil
	case "http":
		return channel.NewHTTPChannel(cfg.HTTP, logger.Component(log, "http")), nil
	case "discord":
		return buildDiscordPlatform(cfg.Discord, logger.Component(log, "discord"))
	default:
		return nil, fmt.Errorf("unknown platform type %q", cfg.Type)
	}
}
