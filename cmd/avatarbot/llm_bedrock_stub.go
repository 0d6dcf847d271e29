//go:build !bedrock

package main

import (
	"fmt"
	"log/slog"

	"avatarbot/internal/adapter/llm"
	"avatarbot/internal/infra/config"
)

func registerBedrock(r *llm.Registry) error {
	return r.Register("bedrock", func(config.ProviderConfig, *slog.Logger) (llm.Capabilities, error) {
		return llm.Capabilities{}, fmt.Errorf("bedrock provider requires build with -tags bedrock")
	})
}
