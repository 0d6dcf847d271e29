package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
)

const redisKeyPrefix = "chat:"

// RedisStore keeps each session as a Redis list of JSON-encoded messages
// under "chat:<session>". Every append refreshes the key's expiry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ domain.MemoryStore = (*RedisStore)(nil)

// NewRedisStore connects to cfg.URL and verifies the connection with PING.
// A TTL of zero disables expiry.
func NewRedisStore(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, ttl: cfg.TTL, logger: logger}, nil
}

func redisKey(sessionID string) string { return redisKeyPrefix + sessionID }

// GetHistory reads the whole list. Records that do not decode as a message
// are skipped.
func (s *RedisStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	raw, err := s.client.LRange(ctx, redisKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, domain.NewDomainError("RedisStore.GetHistory", domain.ErrMemoryLoad, err.Error())
	}

	msgs := make([]domain.Message, 0, len(raw))
	for i, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			s.logger.Warn("skipping undecodable history record",
				"session", sessionID, "index", i, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AddMessage appends msg and refreshes the expiry in one transaction.
func (s *RedisStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return domain.NewDomainError("RedisStore.AddMessage", domain.ErrMemoryStore, err.Error())
	}

	key := redisKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.NewDomainError("RedisStore.AddMessage", domain.ErrMemoryStore, err.Error())
	}
	return nil
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
