package llm

import (
	"strings"

	"avatarbot/internal/infra/config"
)

// preset holds the endpoint defaults for a well-known OpenAI-compatible provider.
type preset struct {
	baseURL string
	model   string
}

var presets = map[string]preset{
	"deepseek": {baseURL: "https://api.deepseek.com", model: "deepseek-chat"},
	"grok":     {baseURL: "https://api.x.ai/v1", model: "grok-beta"},
	// Doubao models are addressed by Ark endpoint id, so there is no default model.
	"doubao": {baseURL: "https://ark.cn-beijing.volces.com/api/v3"},
	"openai": {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini"},
}

const defaultBaseURL = "https://api.openai.com/v1"

// withPreset fills empty endpoint fields of cfg from the preset named cfg.Name.
func withPreset(cfg config.ProviderConfig) config.ProviderConfig {
	p, ok := presets[strings.ToLower(cfg.Name)]
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
		if ok {
			cfg.BaseURL = p.baseURL
		}
	}
	if cfg.Model == "" && ok {
		cfg.Model = p.model
	}
	return cfg
}

// Endpoint returns the base URL an OpenAI-compatible provider entry talks to.
func Endpoint(cfg config.ProviderConfig) string {
	return withPreset(cfg).BaseURL
}
