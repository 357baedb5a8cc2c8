package eventbus

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/goclaw/sagaflow/pkg/event"
)

const (
	// SchemaVersionV1 is the initial committed-event schema.
	SchemaVersionV1 = "v1"
)

// Envelope is the wire form of a committed event.
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	NodeID        string            `json:"node_id"`
	StreamID      string            `json:"stream_id"`
	OrderingKey   string            `json:"ordering_key"`
	Sequence      int64             `json:"sequence"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
}

// EnvelopeFromEvent wraps a committed event. The stream id orders envelopes
// and the stream version is the sequence.
func EnvelopeFromEvent(nodeID string, evt event.Event) (Envelope, error) {
	if evt.Type == "" {
		return Envelope{}, fmt.Errorf("eventbus: event type is required")
	}
	if nodeID == "" {
		return Envelope{}, fmt.Errorf("eventbus: node id is required")
	}
	if evt.StreamID == "" {
		return Envelope{}, fmt.Errorf("eventbus: stream id is required")
	}
	if evt.Version == 0 {
		return Envelope{}, fmt.Errorf("eventbus: event %s is not committed", evt.ID)
	}

	payload := evt.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	return Envelope{
		EventID:       evt.ID,
		EventType:     evt.Type,
		Timestamp:     evt.Timestamp.UTC(),
		SchemaVersion: SchemaVersionV1,
		NodeID:        nodeID,
		StreamID:      evt.StreamID,
		OrderingKey:   evt.StreamID,
		Sequence:      int64(evt.Version),
		Metadata:      maps.Clone(evt.Metadata),
		Payload:       append(json.RawMessage(nil), payload...),
	}, nil
}

// Event rebuilds the committed event carried by the envelope.
func (e Envelope) Event() event.Event {
	return event.Event{
		ID:        e.EventID,
		Type:      e.EventType,
		StreamID:  e.StreamID,
		Version:   uint64(e.Sequence),
		Timestamp: e.Timestamp,
		Payload:   append(json.RawMessage(nil), e.Payload...),
		Metadata:  maps.Clone(e.Metadata),
	}
}
