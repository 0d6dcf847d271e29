package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"avatarbot/internal/infra/config"
	"avatarbot/internal/infra/logger"
	"avatarbot/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'avatarbot --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`avatarbot - multimodal conversational avatar

USAGE:
    avatarbot [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for use in config.yaml
                Reads the passphrase from AVATARBOT_CONFIG_KEY

    (no command) - Run the bot on the configured platform

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional, defaults run the mock backend in a terminal)
    Environment: AVATARBOT_* variables and LLM_PROVIDER, MEMORY_TYPE, PLATFORM,
                 <PROVIDER>_API_KEY, <PROVIDER>_MODEL override config

EXAMPLES:
    avatarbot                                   # Run with config.yaml
    avatarbot --config /etc/avatarbot.yaml      # Run with custom config
    PLATFORM=http avatarbot                     # Serve the HTTP API
    AVATARBOT_CONFIG_KEY=... avatarbot encrypt sk-...
    avatarbot doctor                            # Check system health`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("AVATARBOT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Backends, memory, personas, bot
	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	// 5. Platform
	platform, err := buildPlatform(cfg.Platform, os.Stdin, os.Stdout, log)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	log.Info("avatarbot starting",
		"provider", app.Provider,
		"vision", app.Vision,
		"voice", app.Voice,
		"memory", cfg.Memory.Type,
		"persona", app.Persona,
		"platform", platform.Name(),
	)

	if err := platform.Run(ctx, app.Bot); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", platform.Name(), err)
	}
	log.Info("avatarbot stopped")
	return nil
}
