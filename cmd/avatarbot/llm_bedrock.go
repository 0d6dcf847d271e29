//go:build bedrock

package main

import (
	"avatarbot/internal/adapter/llm"
)

func registerBedrock(r *llm.Registry) error {
	return r.Register("bedrock", llm.BedrockFactory)
}
