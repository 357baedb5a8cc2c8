package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Redis Pub/Sub-backed Bus. Subjects are used as channel names,
// so every node publishing to the same Redis sees the same stream.
type RedisBus struct {
	client redis.UniversalClient

	mu     sync.Mutex
	subs   map[*Subscription]*redis.PubSub
	closed bool
}

// NewRedisBus creates a Redis-backed bus on client.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{
		client: client,
		subs:   make(map[*Subscription]*redis.PubSub),
	}
}

// Publish sends payload on the subject channel.
func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("eventbus: bus is closed")
	}
	return b.client.Publish(ctx, subject, payload).Err()
}

// Subscribe pattern-subscribes on Redis. Subject wildcards are widened to a
// Redis glob and then matched exactly before delivery.
func (b *RedisBus) Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: bus is closed")
	}

	pubsub := b.client.PSubscribe(ctx, redisGlob(pattern))
	// Wait for the subscription to be confirmed so publishes that follow are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", pattern, err)
	}

	var sub *Subscription
	sub = newSubscription(pattern, buffer, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		_ = pubsub.Close()
	})
	b.subs[sub] = pubsub

	go b.forward(pubsub, sub)
	sub.closeOnDone(ctx)
	return sub, nil
}

// forward copies Redis messages into the subscription. A full buffer drops
// the oldest message.
func (b *RedisBus) forward(pubsub *redis.PubSub, sub *Subscription) {
	redisCh := pubsub.Channel()
	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-redisCh:
			if !ok {
				_ = sub.Close()
				return
			}
			if !subjectMatches(sub.pattern, msg.Channel) {
				continue
			}
			out := Message{Subject: msg.Channel, Payload: []byte(msg.Payload), Timestamp: time.Now().UTC()}
			if !b.deliver(sub, out) {
				return
			}
		}
	}
}

func (b *RedisBus) deliver(sub *Subscription, msg Message) (open bool) {
	// Close may race with delivery; the done channel is checked first and a
	// send on the already closed channel is recovered.
	defer func() {
		if recover() != nil {
			open = false
		}
	}()
	select {
	case <-sub.done:
		return false
	case sub.ch <- msg:
		return true
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
	return true
}

// Close shuts down all subscriptions. The client is left open for its owner.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

// Healthy checks if the Redis connection is alive.
func (b *RedisBus) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	return !closed && b.client.Ping(ctx).Err() == nil
}

// redisGlob converts a subject pattern to a Redis PSUBSCRIBE glob.
func redisGlob(pattern string) string {
	if strings.HasSuffix(pattern, ">") {
		pattern = strings.TrimSuffix(pattern, ">") + "*"
	}
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '?', '[', ']', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
