package websocket

import (
	"context"
	"fmt"
	"strings"

	"bloodsos/pkg/cache"
	"bloodsos/pkg/logger"
)

const TrackingChannelPrefix = "tracking:"

// RedisRelay fans tracking events out to every instance through Redis pub/sub.
// Each instance delivers to its own room members, and Redis keeps publish
// order per channel so per-room FIFO holds across instances.
type RedisRelay struct {
	cache *cache.RedisCache
	log   *logger.Logger
}

func NewRedisRelay(c *cache.RedisCache, log *logger.Logger) *RedisRelay {
	return &RedisRelay{cache: c, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, hospitalID string, payload []byte) error {
	if err := r.cache.Publish(ctx, TrackingChannelPrefix+hospitalID, payload); err != nil {
		return fmt.Errorf("failed to publish tracking event: %w", err)
	}
	return nil
}

// Run subscribes to every tracking channel and delivers to hub until ctx ends.
// The relay is attached to hub only once the subscription is confirmed, and
// detached again when Run returns, so hub never publishes into a channel this
// instance is not listening on. ready, when non-nil, is closed on attach.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	pubsub := r.cache.PSubscribe(ctx, TrackingChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to tracking channels: %w", err)
	}
	hub.SetRelay(r)
	defer func() {
		hub.SetRelay(nil)
		if ctx.Err() == nil {
			r.log.Warn("Tracking relay detached, delivering locally")
		}
	}()
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			hospitalID := strings.TrimPrefix(msg.Channel, TrackingChannelPrefix)
			hub.Deliver(hospitalID, []byte(msg.Payload))
		}
	}
}
