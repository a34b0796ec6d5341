package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Bus publishes announcements on Redis Pub/Sub so consumers outside this
// process (other replicas' hubs, dashboards) can follow them.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus backed by the given Client.
func NewBus(c *Client) *Bus {
	return &Bus{rdb: c.Underlying()}
}

// Publish sends a raw payload to channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Send implements notify.Sender: the event name is the channel and the
// payload is JSON-encoded.
func (b *Bus) Send(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", event, err)
	}
	return b.Publish(ctx, event, data)
}

// Name returns the sender identifier.
func (b *Bus) Name() string { return "redis" }
