// Package bus republishes normalized events on Redis pub/sub.
package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"livetape/config"
)

// RedisPublisher publishes raw payloads on Redis channels.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher connects and pings the server. The client is closed
// again if the ping fails.
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisPublisher{rdb: rdb}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
