package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// busBuffer bounds how far a slow reader may fall behind a subscription.
const busBuffer = 128

// Message is one pub/sub delivery. Channel is the concrete channel even for
// pattern subscriptions.
type Message struct {
	Channel string
	Payload []byte
}

// Bus carries book updates and anomalies between processes over Redis
// Pub/Sub.
type Bus struct {
	rdb *redis.Client
}

// NewBus returns a Bus on c.
func NewBus(c *Client) *Bus {
	return &Bus{rdb: c.Underlying()}
}

// Publish sends payload on channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, which may be a glob pattern, until ctx ends.
// The returned channel is closed when the subscription stops.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	sub := b.open(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}
	out := make(chan Message, busBuffer)
	go forward(ctx, sub, out)
	return out, nil
}

func (b *Bus) open(ctx context.Context, channel string) *redis.PubSub {
	if hasPattern(channel) {
		return b.rdb.PSubscribe(ctx, channel)
	}
	return b.rdb.Subscribe(ctx, channel)
}

func forward(ctx context.Context, sub *redis.PubSub, out chan<- Message) {
	defer close(out)
	defer sub.Close()

	in := sub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-ctx.Done():
			return
		}
	}
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}
