package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBridge publishes events through a redis channel so every API instance delivers them to
// its own hub. When redis is unreachable, events fall back to local delivery.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger
}

// NewRedisBridge wires hub to channel on client.
func NewRedisBridge(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish sends event to the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("redis publish failed, delivering locally", zap.String("event_type", event.Type), zap.Error(err))
		b.hub.Deliver(event)
		return nil
	}
	return nil
}

// Run relays channel messages into the hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close() //nolint:errcheck

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("realtime bridge subscribed", zap.String("channel", b.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				b.logger.Warn("discarding malformed realtime message", zap.Error(err))
				continue
			}
			b.hub.Deliver(event)
		}
	}
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("event type missing")
	}
	return event, nil
}
