// Package eventstore defines append-only event stream persistence with optimistic concurrency.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goclaw/sagaflow/pkg/event"
)

var (
	// ErrConcurrencyConflict matches every optimistic-concurrency failure.
	ErrConcurrencyConflict = errors.New("eventstore: concurrency conflict")
	// ErrSnapshotNotFound is returned when a stream has no snapshot yet.
	ErrSnapshotNotFound = errors.New("eventstore: snapshot not found")
	// ErrEmptyStreamID is returned when a stream id is blank.
	ErrEmptyStreamID = errors.New("eventstore: stream id is required")
)

// Store persists ordered event streams.
type Store interface {
	// Append writes events after expectedVersion and returns the new stream version.
	// It fails with a *ConflictError when the stream head is not expectedVersion.
	Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error)

	// Load returns events with version greater than afterVersion, in order.
	Load(ctx context.Context, streamID string, afterVersion uint64) ([]event.Event, error)

	Close() error
}

// SnapshotStore persists the latest snapshot of a stream.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context, streamID string) (*Snapshot, error)
}

// Snapshot is the serialized state of an aggregate at Version.
type Snapshot struct {
	StreamID  string          `json:"stream_id"`
	Version   uint64          `json:"version"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ConflictError reports a stream head that moved past the expected version.
type ConflictError struct {
	StreamID string
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("eventstore: stream %s at version %d, expected %d", e.StreamID, e.Actual, e.Expected)
}

// Is reports ErrConcurrencyConflict as a match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// UnavailableError indicates that the storage backend cannot be reached.
type UnavailableError struct {
	Backend string
	Cause   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("eventstore: %s unavailable: %v", e.Backend, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// SerializationError indicates a failure encoding or decoding stored data.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("eventstore: serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// Prepare validates an append request and returns stamped copies of events
// numbered from expectedVersion+1. Backends call it before writing.
func Prepare(streamID string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	out := make([]event.Event, len(events))
	for i, evt := range events {
		if evt.Type == "" {
			return nil, fmt.Errorf("eventstore: event %d: %w", i, event.ErrEmptyType)
		}
		stamped := evt.Clone()
		stamped.StreamID = streamID
		stamped.Version = expectedVersion + uint64(i) + 1
		if stamped.Timestamp.IsZero() {
			stamped.Timestamp = time.Now().UTC()
		}
		out[i] = stamped
	}
	return out, nil
}

// Marshal encodes an event for storage.
func Marshal(evt event.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

// Unmarshal decodes a stored event.
func Unmarshal(data []byte) (event.Event, error) {
	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return event.Event{}, &SerializationError{Operation: "unmarshal", Cause: err}
	}
	return evt, nil
}
