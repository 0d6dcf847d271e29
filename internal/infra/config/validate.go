package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateFeature("vision", cfg.Vision, cfg, ve)
	validateFeature("voice", cfg.Voice, cfg, ve)
	validateMemory(cfg, ve)
	validatePersona(cfg, ve)
	validatePlatform(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// PresetProviders names the providers that work from credentials alone.
var PresetProviders = map[string]bool{
	"deepseek": true,
	"grok":     true,
	"doubao":   true,
	"openai":   true,
}

var validProviderTypes = map[string]bool{
	"":        true,
	"openai":  true,
	"bedrock": true,
	"mock":    true,
}

// ProviderType resolves the effective backend type of p.
func ProviderType(p ProviderConfig) string {
	switch {
	case p.Type != "":
		return strings.ToLower(p.Type)
	case strings.EqualFold(p.Name, "mock"):
		return "mock"
	case strings.EqualFold(p.Name, "bedrock"):
		return "bedrock"
	default:
		return "openai"
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.Provider == "" {
		ve.Add("llm.provider must not be empty")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[key] = true

		if !validProviderTypes[strings.ToLower(p.Type)] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, bedrock, mock)", i, p.Type)
		}
		if p.MaxTokens < 0 {
			ve.Add("llm.providers[%d] (%s): max_tokens must be >= 0", i, p.Name)
		}
	}

	selected := strings.ToLower(cfg.LLM.Provider)
	p, ok := cfg.Provider(selected)
	switch {
	case ok:
		validateCredentials("llm.provider", p, ve)
	case PresetProviders[selected]:
		ve.Add("llm.provider %q selected but no credentials configured (set %s)", selected, credentialHint(selected))
	}

	if cb := cfg.LLM.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateCredentials(field string, p ProviderConfig, ve *ValidationError) {
	switch ProviderType(p) {
	case "mock":
	case "bedrock":
		if p.Model == "" {
			ve.Add("%s %q: model is required for bedrock", field, p.Name)
		}
	default:
		if p.APIKey == "" {
			ve.Add("%s %q: api_key is empty (set %s)", field, p.Name, credentialHint(p.Name))
		}
		if strings.EqualFold(p.Name, "doubao") && p.Model == "" {
			ve.Add("%s %q: model (endpoint id) is required (set DOUBAO_MODEL)", field, p.Name)
		}
	}
}

func credentialHint(name string) string {
	if env, ok := providerEnv[strings.ToLower(name)]; ok {
		return env.apiKey
	}
	return "llm.providers[].api_key"
}

func validateFeature(section string, f FeatureConfig, cfg *Config, ve *ValidationError) {
	if f.Disabled || f.Provider == "" {
		return
	}
	if _, ok := cfg.Provider(f.Provider); !ok {
		ve.Add("%s.provider %q does not match any llm.providers entry", section, f.Provider)
	}
}

var validMemoryTypes = map[string]bool{
	"none":     true,
	"inmemory": true,
	"redis":    true,
	"postgres": true,
	"sqlite":   true,
}

func validateMemory(cfg *Config, ve *ValidationError) {
	m := cfg.Memory
	typ := strings.ToLower(m.Type)
	if !validMemoryTypes[typ] {
		ve.Add("memory.type %q is invalid (want: none, inmemory, redis, postgres, sqlite)", m.Type)
		return
	}
	switch typ {
	case "redis":
		if !strings.HasPrefix(m.URL, "redis://") && !strings.HasPrefix(m.URL, "rediss://") {
			ve.Add("memory.url %q must be a redis:// URL (set REDIS_URL)", m.URL)
		}
		if m.TTL < 0 {
			ve.Add("memory.ttl must be >= 0")
		}
	case "postgres":
		if m.URL == "" {
			ve.Add("memory.url is required for postgres (set DATABASE_URL)")
		}
	case "sqlite":
		if m.URL == "" {
			ve.Add("memory.url is required for sqlite (a file path or :memory:)")
		}
	}
	if m.MaxConnections < 0 {
		ve.Add("memory.max_connections must be >= 0")
	}
	if m.Encryption.Enabled {
		if typ == "none" {
			ve.Add("memory.encryption requires a memory backend")
		}
		if len(m.Encryption.Passphrase) < 8 {
			ve.Add("memory.encryption.passphrase must be at least 8 characters")
		}
	}
}

func validatePersona(cfg *Config, ve *ValidationError) {
	if cfg.Persona.Dir == "" {
		ve.Add("persona.dir must not be empty")
	}
}

var validPlatformTypes = map[string]bool{
	"terminal": true,
	"onebot":   true,
	"http":     true,
	"discord":  true,
}

func validatePlatform(cfg *Config, ve *ValidationError) {
	p := cfg.Platform
	typ := strings.ToLower(p.Type)
	if !validPlatformTypes[typ] {
		ve.Add("platform.type %q is invalid (want: terminal, onebot, http, discord)", p.Type)
		return
	}
	switch typ {
	case "terminal":
		if p.Terminal.SessionID == "" {
			ve.Add("platform.terminal.session_id must not be empty")
		}
	case "onebot":
		if !strings.HasPrefix(p.OneBot.URL, "ws://") && !strings.HasPrefix(p.OneBot.URL, "wss://") {
			ve.Add("platform.onebot.url %q must be a ws:// or wss:// URL (set ONEBOT_WS_URL)", p.OneBot.URL)
		}
	case "http":
		if _, _, err := net.SplitHostPort(p.HTTP.Addr); err != nil {
			ve.Add("platform.http.addr %q is invalid: %v", p.HTTP.Addr, err)
		}
		if p.HTTP.RateLimit <= 0 {
			ve.Add("platform.http.rate_limit must be > 0")
		}
	case "discord":
		if p.Discord.Token == "" {
			ve.Add("platform.discord.token is required (set DISCORD_BOT_TOKEN)")
		}
	}
}

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
