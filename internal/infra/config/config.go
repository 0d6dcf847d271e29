package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Vision   FeatureConfig  `yaml:"vision"`
	Voice    FeatureConfig  `yaml:"voice"`
	Memory   MemoryConfig   `yaml:"memory"`
	Persona  PersonaConfig  `yaml:"persona"`
	Platform PlatformConfig `yaml:"platform"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// LLMConfig selects the chat backend and declares every known provider.
type LLMConfig struct {
	Provider       string               `yaml:"provider"`
	Providers      []ProviderConfig     `yaml:"providers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig describes one backend. Type is "openai" (any
// OpenAI-compatible API), "bedrock" or "mock"; it defaults to the preset for
// Name, then to "openai".
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model,omitempty"`
	Video       bool          `yaml:"video,omitempty"`
	STTModel    string        `yaml:"stt_model,omitempty"`
	TTSModel    string        `yaml:"tts_model,omitempty"`
	TTSVoice    string        `yaml:"tts_voice,omitempty"`
	Region      string        `yaml:"region,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// CircuitBreakerConfig holds circuit breaker settings for the chat backend.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// FeatureConfig controls an optional capability. Provider names the
// llm.providers entry serving it; empty means the chat provider. The
// capability is available when that provider configures a model for it.
type FeatureConfig struct {
	Disabled bool   `yaml:"disabled"`
	Provider string `yaml:"provider,omitempty"`
}

// MemoryConfig selects the conversation history backend.
type MemoryConfig struct {
	Type           string           `yaml:"type"` // none, inmemory, redis, postgres, sqlite
	URL            string           `yaml:"url"`
	TTL            time.Duration    `yaml:"ttl"`
	MaxConnections int              `yaml:"max_connections"`
	Encryption     EncryptionConfig `yaml:"encryption"`
}

// EncryptionConfig enables at-rest encryption of message content.
type EncryptionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`
}

// PersonaConfig points at the persona directory.
type PersonaConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

// PlatformConfig selects the user-facing adapter.
type PlatformConfig struct {
	Type     string                 `yaml:"type"` // terminal, onebot, http, discord
	Terminal TerminalPlatformConfig `yaml:"terminal"`
	OneBot   OneBotPlatformConfig   `yaml:"onebot"`
	HTTP     HTTPPlatformConfig     `yaml:"http"`
	Discord  DiscordPlatformConfig  `yaml:"discord"`
}

// TerminalPlatformConfig holds terminal REPL settings.
type TerminalPlatformConfig struct {
	SessionID string `yaml:"session_id"`
	Markdown  bool   `yaml:"markdown"`
}

// OneBotPlatformConfig holds OneBot websocket settings.
type OneBotPlatformConfig struct {
	URL         string        `yaml:"url"`
	AccessToken string        `yaml:"access_token,omitempty"`
	Reconnect   time.Duration `yaml:"reconnect"`
}

// HTTPPlatformConfig holds HTTP API settings.
type HTTPPlatformConfig struct {
	Addr           string `yaml:"addr"`
	RateLimit      int    `yaml:"rate_limit"` // requests per minute per IP
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

// DiscordPlatformConfig holds Discord bot settings.
type DiscordPlatformConfig struct {
	Token       string   `yaml:"token"`
	GuildID     string   `yaml:"guild_id,omitempty"`
	ChannelIDs  []string `yaml:"channel_ids,omitempty"`
	MentionOnly bool     `yaml:"mention_only,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config that runs the mock backend in a terminal with no memory.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "mock",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     60 * time.Second,
				Interval:    30 * time.Second,
			},
		},
		Memory: MemoryConfig{
			Type:           "none",
			TTL:            24 * time.Hour,
			MaxConnections: 5,
		},
		Persona: PersonaConfig{
			Dir:     "avatars",
			Default: "default",
		},
		Platform: PlatformConfig{
			Type:     "terminal",
			Terminal: TerminalPlatformConfig{SessionID: "terminal-session"},
			OneBot: OneBotPlatformConfig{
				URL:       "ws://127.0.0.1:6700",
				Reconnect: 5 * time.Second,
			},
			HTTP: HTTPPlatformConfig{
				Addr:           ":8080",
				RateLimit:      100,
				RateLimitBurst: 20,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "avatarbot",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (a
// missing file is not an error), then an optional .env file next to the
// working directory, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("AVATARBOT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Provider returns the provider entry with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// provider returns a pointer to the named entry, appending an empty one if absent.
func (c *Config) provider(name string) *ProviderConfig {
	for i := range c.LLM.Providers {
		if strings.EqualFold(c.LLM.Providers[i].Name, name) {
			return &c.LLM.Providers[i]
		}
	}
	c.LLM.Providers = append(c.LLM.Providers, ProviderConfig{Name: name})
	return &c.LLM.Providers[len(c.LLM.Providers)-1]
}

// providerEnv lists the per-provider variables understood by ApplyEnvOverrides.
var providerEnv = map[string]struct {
	apiKey, model, visionModel, sttModel, ttsModel string
}{
	"deepseek": {apiKey: "DEEPSEEK_API_KEY", model: "DEEPSEEK_MODEL"},
	"grok":     {apiKey: "GROK_API_KEY", model: "GROK_MODEL"},
	"openai":   {apiKey: "OPENAI_API_KEY", model: "OPENAI_MODEL"},
	"doubao": {
		apiKey:      "DOUBAO_API_KEY",
		model:       "DOUBAO_MODEL",
		visionModel: "DOUBAO_VISION_MODEL",
		sttModel:    "DOUBAO_ASR_MODEL",
		ttsModel:    "DOUBAO_TTS_MODEL",
	},
}

// ApplyEnvOverrides maps AVATARBOT_* variables and the short deployment
// names (LLM_PROVIDER, MEMORY_TYPE, PLATFORM, ...) onto cfg. AVATARBOT_*
// wins when both are set.
func ApplyEnvOverrides(cfg *Config) {
	setString(&cfg.LLM.Provider, "LLM_PROVIDER", "AVATARBOT_LLM_PROVIDER")
	setString(&cfg.Memory.Type, "MEMORY_TYPE", "AVATARBOT_MEMORY_TYPE")
	setString(&cfg.Platform.Type, "PLATFORM", "AVATARBOT_PLATFORM")
	setString(&cfg.Persona.Dir, "AVATARBOT_PERSONA_DIR")
	setString(&cfg.Persona.Default, "AVATARBOT_PERSONA_DEFAULT")
	setString(&cfg.Platform.OneBot.URL, "ONEBOT_WS_URL", "AVATARBOT_ONEBOT_URL")
	setString(&cfg.Platform.OneBot.AccessToken, "ONEBOT_ACCESS_TOKEN")
	setString(&cfg.Platform.HTTP.Addr, "AVATARBOT_HTTP_ADDR")
	setString(&cfg.Platform.Discord.Token, "DISCORD_BOT_TOKEN", "AVATARBOT_DISCORD_TOKEN")
	setString(&cfg.Memory.Encryption.Passphrase, "AVATARBOT_MEMORY_PASSPHRASE")
	setString(&cfg.Logger.Level, "AVATARBOT_LOGGER_LEVEL")
	setString(&cfg.Logger.Format, "AVATARBOT_LOGGER_FORMAT")
	setString(&cfg.Tracer.Exporter, "AVATARBOT_TRACER_EXPORTER")
	if v := os.Getenv("AVATARBOT_TRACER_ENABLED"); v != "" {
		cfg.Tracer.Enabled, _ = strconv.ParseBool(v)
	}

	// The store URL follows the selected memory type.
	switch strings.ToLower(cfg.Memory.Type) {
	case "redis":
		setString(&cfg.Memory.URL, "REDIS_URL")
		if cfg.Memory.URL == "" {
			cfg.Memory.URL = "redis://127.0.0.1/"
		}
	case "postgres", "sqlite":
		setString(&cfg.Memory.URL, "DATABASE_URL")
	}
	setString(&cfg.Memory.URL, "AVATARBOT_MEMORY_URL")

	for name, env := range providerEnv {
		if os.Getenv(env.apiKey) == "" && os.Getenv(env.model) == "" {
			continue
		}
		p := cfg.provider(name)
		setString(&p.APIKey, env.apiKey)
		setString(&p.Model, env.model)
		if env.visionModel != "" {
			setString(&p.VisionModel, env.visionModel)
			setString(&p.STTModel, env.sttModel)
			setString(&p.TTSModel, env.ttsModel)
		}
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		if p, ok := cfg.Provider("bedrock"); ok && p.Region == "" {
			cfg.provider("bedrock").Region = v
		}
	}
}

// setString assigns the value of the last non-empty variable in keys.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", abs, mode)
	}
	return nil
}
