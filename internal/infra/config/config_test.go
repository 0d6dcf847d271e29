package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_PROVIDER", "AVATARBOT_LLM_PROVIDER", "MEMORY_TYPE", "AVATARBOT_MEMORY_TYPE",
		"PLATFORM", "AVATARBOT_PLATFORM", "REDIS_URL", "DATABASE_URL", "AVATARBOT_MEMORY_URL",
		"ONEBOT_WS_URL", "AVATARBOT_ONEBOT_URL", "DEEPSEEK_API_KEY", "DEEPSEEK_MODEL",
		"GROK_API_KEY", "GROK_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL", "DOUBAO_API_KEY",
		"DOUBAO_MODEL", "DOUBAO_VISION_MODEL", "DOUBAO_ASR_MODEL", "DOUBAO_TTS_MODEL",
		"AVATARBOT_CONFIG_KEY", "AVATARBOT_LOGGER_LEVEL", "DISCORD_BOT_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, "none", cfg.Memory.Type)
	assert.Equal(t, 24*time.Hour, cfg.Memory.TTL)
	assert.Equal(t, "avatars", cfg.Persona.Dir)
	assert.Equal(t, "default", cfg.Persona.Default)
	assert.Equal(t, "terminal", cfg.Platform.Type)
	assert.Equal(t, "terminal-session", cfg.Platform.Terminal.SessionID)
	assert.Equal(t, "ws://127.0.0.1:6700", cfg.Platform.OneBot.URL)
	assert.NoError(t, Validate(cfg))
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM.Provider)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: doubao
  providers:
    - name: doubao
      api_key: "ark-key"
      model: "ep-123"
      vision_model: "ep-vision"
voice:
  disabled: true
memory:
  type: redis
  url: redis://cache:6379/0
  ttl: 1h
platform:
  type: http
  http:
    addr: ":9000"
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "doubao", cfg.LLM.Provider)
	p, ok := cfg.Provider("doubao")
	require.True(t, ok)
	assert.Equal(t, "ark-key", p.APIKey)
	assert.Equal(t, "ep-vision", p.VisionModel)
	assert.True(t, cfg.Voice.Disabled)
	assert.False(t, cfg.Vision.Disabled)
	assert.Equal(t, "redis://cache:6379/0", cfg.Memory.URL)
	assert.Equal(t, time.Hour, cfg.Memory.TTL)
	assert.Equal(t, ":9000", cfg.Platform.HTTP.Addr)
	assert.Equal(t, 100, cfg.Platform.HTTP.RateLimit, "defaults survive partial sections")
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600))
	require.NoError(t, os.Chmod(path, 0666))

	_, err := Load(path)
	assert.ErrorContains(t, err, "insecure permissions")
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [oops"), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".env", []byte("LLM_PROVIDER=deepseek\nDEEPSEEK_API_KEY=sk-dot\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv("LLM_PROVIDER")
		os.Unsetenv("DEEPSEEK_API_KEY")
	})
	// godotenv never overrides variables that already exist, even when empty.
	os.Unsetenv("LLM_PROVIDER")
	os.Unsetenv("DEEPSEEK_API_KEY")

	cfg, err := Load(filepath.Join(dir, "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	p, ok := cfg.Provider("deepseek")
	require.True(t, ok)
	assert.Equal(t, "sk-dot", p.APIKey)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "doubao")
	t.Setenv("DOUBAO_API_KEY", "k")
	t.Setenv("DOUBAO_MODEL", "ep-chat")
	t.Setenv("DOUBAO_VISION_MODEL", "ep-vis")
	t.Setenv("DOUBAO_ASR_MODEL", "ep-asr")
	t.Setenv("MEMORY_TYPE", "redis")
	t.Setenv("PLATFORM", "onebot")
	t.Setenv("ONEBOT_WS_URL", "ws://qq:6700")
	t.Setenv("AVATARBOT_LOGGER_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "doubao", cfg.LLM.Provider)
	p, ok := cfg.Provider("doubao")
	require.True(t, ok)
	assert.Equal(t, "k", p.APIKey)
	assert.Equal(t, "ep-chat", p.Model)
	assert.Equal(t, "ep-vis", p.VisionModel)
	assert.Equal(t, "ep-asr", p.STTModel)
	assert.Empty(t, p.TTSModel)

	assert.Equal(t, "redis", cfg.Memory.Type)
	assert.Equal(t, "redis://127.0.0.1/", cfg.Memory.URL)
	assert.Equal(t, "onebot", cfg.Platform.Type)
	assert.Equal(t, "ws://qq:6700", cfg.Platform.OneBot.URL)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.NoError(t, Validate(cfg))
}

func TestEnvOverridesPrefixedWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMORY_TYPE", "redis")
	t.Setenv("AVATARBOT_MEMORY_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/chat")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, "postgres", cfg.Memory.Type)
	assert.Equal(t, "postgres://u:p@db/chat", cfg.Memory.URL)
}

func TestEnvOverridesUpdateExistingProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "from-env")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "deepseek", Model: "deepseek-reasoner"}}
	ApplyEnvOverrides(cfg)

	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, "from-env", cfg.LLM.Providers[0].APIKey)
	assert.Equal(t, "deepseek-reasoner", cfg.LLM.Providers[0].Model)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := EncryptValue("sk-abcdef123456", "test-passphrase-123")
	require.NoError(t, err)

	decrypted, err := DecryptValue(encrypted, "test-passphrase-123")
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdef123456", decrypted)

	_, err = DecryptValue(encrypted, "wrong-pass")
	assert.Error(t, err)

	_, err = DecryptValue("no-separator", "x")
	assert.Error(t, err)
}

func TestLoadDecryptsSecrets(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	enc, err := EncryptValue("sk-secret", "config-key")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  provider: deepseek\n  providers:\n    - name: deepseek\n      api_key: \"enc:" + enc + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("AVATARBOT_CONFIG_KEY", "config-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	p, _ := cfg.Provider("deepseek")
	assert.Equal(t, "sk-secret", p.APIKey)
}
