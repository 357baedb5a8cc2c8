// Package memory provides an in-memory event store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
)

// Store implements eventstore.Store and eventstore.SnapshotStore using in-memory maps.
type Store struct {
	mu        sync.RWMutex
	streams   map[string][]event.Event
	snapshots map[string]eventstore.Snapshot
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		streams:   make(map[string][]event.Event),
		snapshots: make(map[string]eventstore.Snapshot),
	}
}

// Append appends events if the stream is at expectedVersion.
func (s *Store) Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	stamped, err := eventstore.Prepare(streamID, expectedVersion, events)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(len(s.streams[streamID]))
	if current != expectedVersion {
		return 0, &eventstore.ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: current}
	}
	s.streams[streamID] = append(s.streams[streamID], stamped...)
	return current + uint64(len(stamped)), nil
}

// Load returns copies of the events after afterVersion.
func (s *Store) Load(ctx context.Context, streamID string, afterVersion uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamID]
	if afterVersion >= uint64(len(stream)) {
		return []event.Event{}, nil
	}
	return event.CloneAll(stream[afterVersion:]), nil
}

// SaveSnapshot keeps the snapshot unless a newer one is already stored.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.StreamID == "" {
		return eventstore.ErrEmptyStreamID
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	snap.Data = append([]byte(nil), snap.Data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snapshots[snap.StreamID]; ok && existing.Version > snap.Version {
		return nil
	}
	s.snapshots[snap.StreamID] = snap
	return nil
}

// LoadSnapshot returns the latest snapshot of a stream.
func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (*eventstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[streamID]
	if !ok {
		return nil, eventstore.ErrSnapshotNotFound
	}
	snap.Data = append([]byte(nil), snap.Data...)
	return &snap, nil
}

// Streams returns the ids of all streams with at least one event.
func (s *Store) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
