package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goclaw/sagaflow/pkg/event"
)

// Telemetry records event-bus pipeline health and publish behavior.
type Telemetry interface {
	RecordPublish(status string)
	RecordRetry()
	SetDegradedMode(active bool)
	RecordOutage()
	RecordRecovery()
}

type nopTelemetry struct{}

func (nopTelemetry) RecordPublish(status string) {}
func (nopTelemetry) RecordRetry()                {}
func (nopTelemetry) SetDegradedMode(active bool) {}
func (nopTelemetry) RecordOutage()               {}
func (nopTelemetry) RecordRecovery()             {}

// RetryConfig controls retry/backoff behavior for publish attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2,
	}
}

// Publisher publishes committed events as envelopes.
type Publisher struct {
	transport Transport
	nodeID    string
	prefix    string
	retry     RetryConfig
	telemetry Telemetry
	router    *SchemaRouter

	mu       sync.Mutex
	degraded bool
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSubjectPrefix overrides SubjectPrefix.
func WithSubjectPrefix(prefix string) PublisherOption {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithSchemaRouter validates outgoing envelopes against registered payload schemas.
func WithSchemaRouter(r *SchemaRouter) PublisherOption {
	return func(p *Publisher) {
		p.router = r
	}
}

// NewPublisher creates a committed-event publisher.
func NewPublisher(nodeID string, transport Transport, retry RetryConfig, telemetry Telemetry, opts ...PublisherOption) (*Publisher, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("eventbus: node id cannot be empty")
	}
	if transport == nil {
		return nil, fmt.Errorf("eventbus: transport cannot be nil")
	}
	if retry.MaxRetries < 0 {
		return nil, fmt.Errorf("eventbus: max retries cannot be negative")
	}
	if retry.InitialBackoff <= 0 || retry.MaxBackoff <= 0 || retry.BackoffFactor < 1 {
		return nil, fmt.Errorf("eventbus: invalid retry config")
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	p := &Publisher{
		transport: transport,
		nodeID:    nodeID,
		prefix:    SubjectPrefix,
		retry:     retry,
		telemetry: telemetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Prefix returns the subject prefix used for published events.
func (p *Publisher) Prefix() string {
	return p.prefix
}

// PublishEvent publishes one committed event with retry/backoff. While the
// bus is degraded only a single attempt is made, so a long outage does not
// stall every commit.
func (p *Publisher) PublishEvent(ctx context.Context, evt event.Event) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}

	envelope, err := EnvelopeFromEvent(p.nodeID, evt)
	if err != nil {
		return Envelope{}, err
	}
	if p.router != nil {
		if err := p.router.ValidateOutgoing(envelope); err != nil {
			p.telemetry.RecordPublish("rejected")
			return Envelope{}, err
		}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	subject := EventSubject(p.prefix, envelope.StreamID, envelope.EventType)

	maxRetries := p.retry.MaxRetries
	if p.Degraded() {
		maxRetries = 0
	}

	backoff := p.retry.InitialBackoff
	var publishErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		publishErr = p.transport.Publish(ctx, subject, body)
		if publishErr == nil {
			p.telemetry.RecordPublish("success")
			p.onPublishRecovered()
			return envelope, nil
		}
		if attempt == maxRetries {
			break
		}
		p.telemetry.RecordRetry()
		p.onPublishOutage()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.retry.MaxBackoff, p.retry.BackoffFactor)
	}

	p.telemetry.RecordPublish("failed")
	p.onPublishOutage()
	return Envelope{}, fmt.Errorf("eventbus: publish failed: %w", publishErr)
}

// Degraded reports whether the publisher currently considers the bus degraded.
func (p *Publisher) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Publisher) onPublishOutage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.degraded {
		return
	}
	p.degraded = true
	p.telemetry.SetDegradedMode(true)
	p.telemetry.RecordOutage()
}

func (p *Publisher) onPublishRecovered() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.degraded {
		return
	}
	p.degraded = false
	p.telemetry.SetDegradedMode(false)
	p.telemetry.RecordRecovery()
}

func nextBackoff(current, max time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
