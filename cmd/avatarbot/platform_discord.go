//go:build discord

package main

import (
	"fmt"
	"log/slog"

	"avatarbot/internal/adapter/channel"
	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

func buildDiscordPlatform(cfg config.DiscordPlatformConfig, log *slog.Logger) (domain.Platform, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("platform.discord.token is required")
	}
	return channel.NewDiscordChannel(cfg, log), nil
}
