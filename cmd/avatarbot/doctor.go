package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"avatarbot/internal/adapter/llm"
	"avatarbot/internal/adapter/memory"
	"avatarbot/internal/adapter/persona"
	"avatarbot/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const doctorDialTimeout = 5 * time.Second

var noConfigResult = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM provider", Fn: checkLLMProvider},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Memory backend", Fn: checkMemoryBackend},
		{Name: "Personas", Fn: checkPersonas},
		{Name: "Platform", Fn: checkPlatform},
	}
	return reportChecks(os.Stdout, checks, cfg)
}

func reportChecks(w io.Writer, checks []Check, cfg *config.Config) error {
	fmt.Fprintln(w, "avatarbot doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above to ensure avatarbot runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\navatarbot should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! avatarbot is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded. A
// missing file is only a warning since defaults and env vars suffice.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the AVATARBOT_* environment variables",
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMProvider resolves the configured backends without contacting them.
func checkLLMProvider(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfigResult
	}

	registry := llm.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := registerBedrock(registry); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	caps, err := registry.Resolve(cfg)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check llm.providers and the <PROVIDER>_API_KEY / <PROVIDER>_MODEL variables",
		}
	}

	msg := fmt.Sprintf("chat via %s (vision: %t, voice: %t)", caps.Name, caps.Vision != nil, caps.Voice != nil)
	if caps.Name == "mock" && !strings.EqualFold(cfg.LLM.Provider, "mock") {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("provider %q unknown, %s", cfg.LLM.Provider, msg),
			Fix:     "Set llm.provider to one of the configured llm.providers names",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

// checkLLMConnectivity dials the chat provider's endpoint.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfigResult
	}

	pc, ok := cfg.Provider(cfg.LLM.Provider)
	if !ok {
		return CheckResult{Status: StatusWarn, Message: "skipped, no provider entry for " + cfg.LLM.Provider}
	}
	if typ := config.ProviderType(pc); typ != "openai" {
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("skipped for %s backend", typ)}
	}

	endpoint := llm.Endpoint(pc)
	latency, err := dialURL(endpoint)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your network connection and the provider base_url",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", pc.Name, latency.Milliseconds()),
	}
}

// checkMemoryBackend opens the configured history store and closes it again.
func checkMemoryBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfigResult
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorDialTimeout)
	defer cancel()

	store, closeFn, err := memory.New(ctx, cfg.Memory, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.Memory.Type, err),
			Fix:     "Check memory.url and that the backend is running",
		}
	}
	defer closeFn()

	if store == nil {
		return CheckResult{Status: StatusWarn, Message: "memory disabled, conversations are not remembered"}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s ready (encrypted: %t)", cfg.Memory.Type, cfg.Memory.Encryption.Enabled),
	}
}

// checkPersonas loads the persona directory.
func checkPersonas(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfigResult
	}

	if _, err := os.Stat(cfg.Persona.Dir); errors.Is(err, os.ErrNotExist) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("directory %s not found, using the built-in persona", cfg.Persona.Dir),
			Fix:     fmt.Sprintf("Create %s with one <name>.yaml or <name>.json per persona", cfg.Persona.Dir),
		}
	}

	reg, err := persona.Load(cfg.Persona.Dir, cfg.Persona.Default)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if _, ok := reg.Lookup(cfg.Persona.Default); !ok {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("persona %q not found, defaulting to %q", cfg.Persona.Default, reg.DefaultName()),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d persona(s): %s", len(reg.Names()), strings.Join(reg.Names(), ", ")),
	}
}

// checkPlatform verifies the platform can be built and, for onebot, that
// the implementation endpoint accepts connections.
func checkPlatform(cfg *config.Config) CheckResult {
	if cfg == nil {
		return noConfigResult
	}

	p, err := buildPlatform(cfg.Platform, strings.NewReader(""), io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}

	switch p.Name() {
	case "onebot":
		if _, err := dialURL(cfg.Platform.OneBot.URL); err != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("onebot endpoint %s unreachable: %v", cfg.Platform.OneBot.URL, err),
				Fix:     "Start the OneBot implementation; avatarbot reconnects on its own",
			}
		}
	case "http":
		return CheckResult{Status: StatusPass, Message: "http API on " + cfg.Platform.HTTP.Addr}
	}
	return CheckResult{Status: StatusPass, Message: p.Name()}
}

// dialURL opens a TCP connection to the host of rawURL.
func dialURL(rawURL string) (time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https", "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorDialTimeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}
