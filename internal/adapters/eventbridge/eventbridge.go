// Package eventbridge optionally fans address-change events out across
// processes over Redis pub/sub, mirroring the teacher's RedisCache
// Invalidate/Subscribe pattern but carrying a full AddressChangeEvent
// payload instead of an invalidation key.
package eventbridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

// AddressChangeChannel is the Redis pub/sub channel address-change events
// are published to and consumed from.
const AddressChangeChannel = "resolvcore:address_change"

// Sink is given a published event to dispatch locally (normally
// eventbus.Bus.Notify), typically wired so a remote event re-enters the
// same bus local listeners observe.
type Sink interface {
	Notify(event domain.AddressChangeEvent)
}

// RedisBridge publishes local Notify calls to Redis and, once Start is
// called, relays events received from Redis into a local Sink.
type RedisBridge struct {
	client *redis.Client
	logger *slog.Logger
}

// New wraps an already-configured *redis.Client.
func New(client *redis.Client, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{client: client, logger: logger}
}

// Notify publishes event to the shared channel so other processes'
// bridges observe it. It satisfies ports.EventBus, so a RedisBridge can be
// used in place of the local bus entirely, or its Notify method can be
// registered as an eventbus.Bus callback. It does not implement
// eventbus.Listener.
func (b *RedisBridge) Notify(event domain.AddressChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal address-change event", "error", err)
		return
	}
	if err := b.client.Publish(context.Background(), AddressChangeChannel, data).Err(); err != nil {
		b.logger.Error("failed to publish address-change event", "error", err)
	}
}

// Start subscribes to the shared channel and forwards every received
// event into sink until ctx is cancelled. It runs in the caller's
// goroutine; callers typically invoke it with `go`.
func (b *RedisBridge) Start(ctx context.Context, sink Sink) error {
	pubsub := b.client.Subscribe(ctx, AddressChangeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.AddressChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("failed to unmarshal address-change event", "error", err)
				continue
			}
			sink.Notify(event)
		}
	}
}

// Ping checks connectivity to the Redis server, e.g. at startup.
func (b *RedisBridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
