package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Redis)(nil)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "keyfetch:events"

// Redis publishes events as JSON on a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a Redis notifier for addr. An empty channel means
// DefaultChannel.
func NewRedis(addr, password, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		channel: channel,
	}
}

// Send publishes e.
func (r *Redis) Send(ctx context.Context, e model.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("redis: publish to %q: %w", r.channel, err)
	}
	return nil
}

// Close closes the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
