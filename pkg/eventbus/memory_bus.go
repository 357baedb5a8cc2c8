package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultBuffer = 32

// Transport publishes bytes to a subject.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Bus is a Transport that can also deliver messages to subscribers.
type Bus interface {
	Transport
	// Subscribe delivers messages whose subject matches pattern until the
	// subscription is closed or ctx ends.
	Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error)
	Close() error
}

// Message is a delivered event-bus message.
type Message struct {
	Subject   string
	Payload   []byte
	Timestamp time.Time
}

// Subscription represents a stream subscription.
type Subscription struct {
	pattern string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
	release func()
}

func newSubscription(pattern string, buffer int, release func()) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Subscription{
		pattern: pattern,
		ch:      make(chan Message, buffer),
		done:    make(chan struct{}),
		release: release,
	}
}

// C returns read-only message channel.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Pattern returns the subject pattern of the subscription.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
		close(s.ch)
	})
	return nil
}

func (s *Subscription) closeOnDone(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
}

// MemoryBus is an in-memory pub/sub transport useful for tests and single-node deployments.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscription
	closed      bool
}

// NewMemoryBus creates an in-memory event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]*Subscription),
	}
}

// Publish publishes to all matching subscriptions. Slow subscribers miss messages.
func (b *MemoryBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}

	msg := Message{
		Subject:   subject,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}

	// Sends happen under the read lock so Close cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("eventbus: bus is closed")
	}
	for pattern, subs := range b.subscribers {
		if !subjectMatches(pattern, subject) {
			continue
		}
		for _, sub := range subs {
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
	return nil
}

// Subscribe subscribes by subject pattern.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}

	var sub *Subscription
	sub = newSubscription(pattern, buffer, func() { b.unsubscribe(pattern, sub) })

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("eventbus: bus is closed")
	}
	b.subscribers[pattern] = append(b.subscribers[pattern], sub)
	b.mu.Unlock()

	sub.closeOnDone(ctx)
	return sub, nil
}

// Close closes every subscription. Later publishes fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subscribers {
		all = append(all, subs...)
	}
	b.subscribers = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}

func (b *MemoryBus) unsubscribe(pattern string, target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[pattern]
	filtered := subs[:0]
	for _, sub := range subs {
		if sub == target {
			continue
		}
		filtered = append(filtered, sub)
	}
	if len(filtered) == 0 {
		delete(b.subscribers, pattern)
		return
	}
	b.subscribers[pattern] = filtered
}

// subjectMatches supports exact, "*" segment, and ">" suffix wildcards.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, ".>") || pattern == ">" {
		prefix := strings.TrimSuffix(strings.TrimSuffix(pattern, ">"), ".")
		if prefix == "" {
			return true
		}
		return strings.HasPrefix(subject, prefix+".")
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")
	if len(patternParts) != len(subjectParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] == "*" {
			continue
		}
		if patternParts[i] != subjectParts[i] {
			return false
		}
	}
	return true
}
