package broadcast

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher is the production Publisher: one Redis PUBLISH per event,
// channel name = topic name. The WS layer pattern-subscribes to the same
// channels, so every API instance sees every event.
type RedisPublisher struct {
	cli *redis.Client
}

func NewRedisPublisher(cli *redis.Client) *RedisPublisher {
	return &RedisPublisher{cli: cli}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.cli.Publish(ctx, topic, payload).Err()
}

var _ Publisher = (*RedisPublisher)(nil)
