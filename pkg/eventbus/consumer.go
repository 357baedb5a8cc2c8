package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

const defaultDedupWindow = 4096

// EnvelopeConsumer validates/routes envelopes and suppresses duplicate
// deliveries within a window of recent event ids.
type EnvelopeConsumer struct {
	router *SchemaRouter

	mu         sync.Mutex
	seenEvents map[string]struct{}
	order      []string
	next       int
}

// NewEnvelopeConsumer creates a schema-aware consumer. A nil router skips
// validation and decoding.
func NewEnvelopeConsumer(router *SchemaRouter) *EnvelopeConsumer {
	return &EnvelopeConsumer{
		router:     router,
		seenEvents: make(map[string]struct{}, defaultDedupWindow),
		order:      make([]string, defaultDedupWindow),
	}
}

// DecodeAndValidate decodes raw event bytes, validates schema routing, and suppresses duplicates.
func (c *EnvelopeConsumer) DecodeAndValidate(raw []byte) (Envelope, any, bool, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, nil, false, fmt.Errorf("eventbus: invalid envelope json: %w", err)
	}

	if c.router != nil {
		if err := c.router.ValidateIncoming(envelope); err != nil {
			return Envelope{}, nil, false, err
		}
	}

	if !c.markSeen(envelope.EventID) {
		return envelope, nil, true, nil
	}

	var decoded any = envelope
	var err error
	if c.router != nil {
		decoded, err = c.router.Decode(envelope)
		if err != nil {
			return Envelope{}, nil, false, err
		}
	}
	return envelope, decoded, false, nil
}

// markSeen records id and reports whether it was new.
func (c *EnvelopeConsumer) markSeen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.seenEvents[id]; exists {
		return false
	}
	if evicted := c.order[c.next]; evicted != "" {
		delete(c.seenEvents, evicted)
	}
	c.order[c.next] = id
	c.next = (c.next + 1) % len(c.order)
	c.seenEvents[id] = struct{}{}
	return true
}
