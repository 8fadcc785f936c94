package ws

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
)

// Bridge subscribes to the event hub and forwards envelopes to the hub's
// topic index. One bridge per process serves every connection, so a new
// subscriber costs nothing on the Redis side.
type Bridge struct {
	rdb *redis.Client
	hub *Hub
}

func NewBridge(rdb *redis.Client, hub *Hub) *Bridge {
	return &Bridge{rdb: rdb, hub: hub}
}

// Run consumes the event hub until ctx is cancelled. go-redis reconnects
// the pattern subscription itself; a closed channel means shutdown.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.rdb.PSubscribe(ctx, "room/*", "user/*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Errorf("ws bridge: event hub subscription closed")
				return
			}
			b.hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
