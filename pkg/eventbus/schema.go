package eventbus

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// PayloadSchema lists the payload fields an event type must carry.
// An empty SchemaVersion means SchemaVersionV1.
type PayloadSchema struct {
	SchemaVersion string
	EventType     string
	Required      []string
}

// EnvelopeDecoder decodes an envelope into a version-specific consumer view.
type EnvelopeDecoder func(envelope Envelope) (any, error)

// EventDecoder decodes an envelope back into the committed event.
func EventDecoder(envelope Envelope) (any, error) {
	return envelope.Event(), nil
}

// SchemaRouter validates envelopes against payload schemas and routes them
// to decoders by schema version. Event types without a schema pass.
type SchemaRouter struct {
	mu sync.RWMutex

	payloadSchemas map[string]PayloadSchema // key: version:eventType
	decoders       map[string]EnvelopeDecoder
}

// NewSchemaRouter creates a schema router.
func NewSchemaRouter() *SchemaRouter {
	return &SchemaRouter{
		payloadSchemas: make(map[string]PayloadSchema),
		decoders:       make(map[string]EnvelopeDecoder),
	}
}

// RegisterPayloadSchema registers payload contracts.
func (r *SchemaRouter) RegisterPayloadSchema(schemas ...PayloadSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, schema := range schemas {
		if schema.EventType == "" {
			return fmt.Errorf("eventbus: schema event type is required")
		}
		if schema.SchemaVersion == "" {
			schema.SchemaVersion = SchemaVersionV1
		}
		r.payloadSchemas[schemaKey(schema.SchemaVersion, schema.EventType)] = schema
	}
	return nil
}

// RegisterDecoder registers a version-specific envelope decoder.
func (r *SchemaRouter) RegisterDecoder(schemaVersion string, decoder EnvelopeDecoder) error {
	if schemaVersion == "" {
		return fmt.Errorf("eventbus: schema version is required")
	}
	if decoder == nil {
		return fmt.Errorf("eventbus: decoder cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[schemaVersion] = decoder
	return nil
}

// EventTypes returns the event types that have a registered schema, sorted.
func (r *SchemaRouter) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.payloadSchemas))
	for _, schema := range r.payloadSchemas {
		seen[schema.EventType] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateOutgoing validates a publisher envelope against registered schema contracts.
func (r *SchemaRouter) ValidateOutgoing(envelope Envelope) error {
	return r.validateEnvelope(envelope)
}

// ValidateIncoming validates a consumer envelope against registered schema contracts.
func (r *SchemaRouter) ValidateIncoming(envelope Envelope) error {
	return r.validateEnvelope(envelope)
}

func (r *SchemaRouter) validateEnvelope(envelope Envelope) error {
	if envelope.EventID == "" || envelope.EventType == "" || envelope.SchemaVersion == "" {
		return fmt.Errorf("eventbus: missing required envelope fields")
	}
	if envelope.NodeID == "" || envelope.OrderingKey == "" || envelope.Sequence <= 0 {
		return fmt.Errorf("eventbus: missing required identity/ordering fields")
	}

	r.mu.RLock()
	schema, exists := r.payloadSchemas[schemaKey(envelope.SchemaVersion, envelope.EventType)]
	r.mu.RUnlock()
	if !exists {
		return nil
	}
	return validatePayloadAgainstSchema(envelope.EventType, envelope.Payload, schema)
}

// ValidatePayload checks a raw payload against the SchemaVersionV1 schema of
// eventType. Event types without a schema pass.
func (r *SchemaRouter) ValidatePayload(eventType string, payload json.RawMessage) error {
	r.mu.RLock()
	schema, exists := r.payloadSchemas[schemaKey(SchemaVersionV1, eventType)]
	r.mu.RUnlock()
	if !exists {
		return nil
	}
	return validatePayloadAgainstSchema(eventType, payload, schema)
}

// Decode routes envelope by schema version and decodes it for consumers.
func (r *SchemaRouter) Decode(envelope Envelope) (any, error) {
	r.mu.RLock()
	decoder := r.decoders[envelope.SchemaVersion]
	r.mu.RUnlock()
	if decoder == nil {
		return envelope, nil
	}
	return decoder(envelope)
}

func validatePayloadAgainstSchema(eventType string, payload json.RawMessage, schema PayloadSchema) error {
	if len(schema.Required) == 0 {
		return nil
	}
	var payloadMap map[string]json.RawMessage
	if err := json.Unmarshal(payload, &payloadMap); err != nil {
		return fmt.Errorf("eventbus: %s: invalid payload json: %w", eventType, err)
	}
	for _, field := range schema.Required {
		if _, ok := payloadMap[field]; !ok {
			return fmt.Errorf("eventbus: %s: required payload field %q missing", eventType, field)
		}
	}
	return nil
}

func schemaKey(version, eventType string) string {
	return version + ":" + eventType
}
