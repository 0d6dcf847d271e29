//go:build !discord

package main

import (
	"fmt"
	"log/slog"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

func buildDiscordPlatform(_ config.DiscordPlatformConfig, _ *slog.Logger) (domain.Platform, error) {
	return nil, fmt.Errorf("discord platform requires build with -tags discord")
}
