// Package memory provides the conversation history backends.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

// New builds the history store selected by cfg.Type. A nil store with a nil
// error means history is disabled. The returned close function is never nil.
func New(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (domain.MemoryStore, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	var (
		store   domain.MemoryStore
		closeFn = noop
	)
	switch typ := strings.ToLower(cfg.Type); typ {
	case "", "none":
		return nil, noop, nil
	case "inmemory":
		store = NewInMemoryStore()
	case "redis":
		rs, err := NewRedisStore(ctx, cfg, logger)
		if err != nil {
			return nil, noop, err
		}
		store, closeFn = rs, rs.Close
	case "postgres", "sqlite":
		ss, err := NewSQLStore(ctx, typ, cfg.URL, cfg.MaxConnections)
		if err != nil {
			return nil, noop, err
		}
		store, closeFn = ss, ss.Close
	default:
		return nil, noop, fmt.Errorf("unknown memory type %q", cfg.Type)
	}

	if cfg.Encryption.Enabled {
		es, err := NewEncryptedStore(store, cfg.Encryption.Passphrase, cfg.Encryption.Salt)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		store = es
	}
	store = NewTracedStore(store, cfg.Type)

	logger.Info("memory store ready", "type", cfg.Type, "encrypted", cfg.Encryption.Enabled)
	return store, closeFn, nil
}
