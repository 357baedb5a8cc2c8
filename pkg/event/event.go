// Package event defines the immutable event value shared by aggregates, stores and the event bus.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyType is returned when an event is built without a type tag.
var ErrEmptyType = errors.New("event: event type is required")

// Event is a single fact recorded in an aggregate stream.
//
// StreamID and Version are assigned by the store on commit; events that are
// only staged carry Version 0.
type Event struct {
	ID        string            `json:"event_id"`
	Type      string            `json:"event_type"`
	StreamID  string            `json:"stream_id,omitempty"`
	Version   uint64            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New builds an event with a generated identity.
func New(eventType string, payload any) (Event, error) {
	if eventType == "" {
		return Event{}, ErrEmptyType
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// MustNew is like New but panics on error. Intended for tests and static fixtures.
func MustNew(eventType string, payload any) Event {
	evt, err := New(eventType, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// WithID returns a copy of e carrying the given identity.
func (e Event) WithID(id string) Event {
	e.ID = id
	return e
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.Metadata != nil {
		out.Metadata = maps.Clone(e.Metadata)
	}
	return out
}

// CloneAll deep-copies a slice of events.
func CloneAll(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i := range events {
		out[i] = events[i].Clone()
	}
	return out
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), v...), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal payload: %w", err)
	}
	return raw, nil
}
