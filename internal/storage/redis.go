package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IshaanNene/medfeed/internal/config"
)

// RefreshNotice is published on the redis channel after each export.
type RefreshNotice struct {
	Key         string    `json:"key"`
	Articles    int       `json:"articles"`
	Failures    int       `json:"failures"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// RedisSink stores the snapshot under one key and announces it on a channel.
type RedisSink struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRedisSink connects to redis.
func NewRedisSink(cfg config.RedisConfig, logger *slog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisSink(client, cfg, logger), nil
}

func newRedisSink(client *redis.Client, cfg config.RedisConfig, logger *slog.Logger) *RedisSink {
	return &RedisSink{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		ttl:     cfg.TTL,
		logger:  logger.With("component", "redis_sink"),
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// A zero TTL keeps the key until the next refresh overwrites it.
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	if s.channel == "" {
		return nil
	}
	notice, err := json.Marshal(RefreshNotice{
		Key:         s.key,
		Articles:    len(snap.Articles),
		Failures:    len(snap.Failures),
		RefreshedAt: snap.RefreshedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	receivers, err := s.client.Publish(ctx, s.channel, notice).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	s.logger.Debug("snapshot published", "key", s.key, "channel", s.channel, "receivers", receivers)
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
