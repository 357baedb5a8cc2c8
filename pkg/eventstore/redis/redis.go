// Package redis provides a Redis-backed event store shared by several processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces all keys written by the store.
const DefaultKeyPrefix = "sagaflow:"

// Store implements eventstore.Store and eventstore.SnapshotStore on Redis.
//
// A stream is a list whose length is its version. Appends WATCH the list and
// push inside MULTI/EXEC, so a concurrent writer aborts the transaction.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a store using client. An empty prefix selects DefaultKeyPrefix.
func New(client redis.UniversalClient, keyPrefix string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix}, nil
}

// Append pushes events if the stream length equals expectedVersion.
func (s *Store) Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	stamped, err := eventstore.Prepare(streamID, expectedVersion, events)
	if err != nil {
		return 0, err
	}
	values := make([]any, len(stamped))
	for i, evt := range stamped {
		data, err := eventstore.Marshal(evt)
		if err != nil {
			return 0, err
		}
		values[i] = data
	}

	key := s.streamKey(streamID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.LLen(ctx, key).Uint64()
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &eventstore.ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: current}
		}
		if len(values) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, values...)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		actual, _ := s.client.LLen(ctx, key).Uint64()
		return 0, &eventstore.ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: actual}
	}
	if err != nil {
		var conflict *eventstore.ConflictError
		if errors.As(err, &conflict) {
			return 0, err
		}
		return 0, &eventstore.UnavailableError{Backend: "redis", Cause: err}
	}
	return expectedVersion + uint64(len(stamped)), nil
}

// Load reads the list tail after afterVersion.
func (s *Store) Load(ctx context.Context, streamID string, afterVersion uint64) ([]event.Event, error) {
	raw, err := s.client.LRange(ctx, s.streamKey(streamID), int64(afterVersion), -1).Result()
	if err != nil {
		return nil, &eventstore.UnavailableError{Backend: "redis", Cause: err}
	}
	events := make([]event.Event, 0, len(raw))
	for _, item := range raw {
		evt, err := eventstore.Unmarshal([]byte(item))
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// SaveSnapshot stores snap unless a newer snapshot is already present.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	if snap.StreamID == "" {
		return eventstore.ErrEmptyStreamID
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return &eventstore.SerializationError{Operation: "marshal snapshot", Cause: err}
	}

	key := s.snapshotKey(snap.StreamID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.readSnapshot(ctx, tx, key)
		if err != nil && !errors.Is(err, eventstore.ErrSnapshotNotFound) {
			return err
		}
		if existing != nil && existing.Version > snap.Version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent writer stored a snapshot first; either one is valid.
		return nil
	}
	return err
}

// LoadSnapshot returns the latest snapshot of streamID.
func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (*eventstore.Snapshot, error) {
	return s.readSnapshot(ctx, s.client, s.snapshotKey(streamID))
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error {
	return nil
}

func (s *Store) readSnapshot(ctx context.Context, cmd redis.Cmdable, key string) (*eventstore.Snapshot, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eventstore.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, &eventstore.UnavailableError{Backend: "redis", Cause: err}
	}
	var snap eventstore.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &eventstore.SerializationError{Operation: "unmarshal snapshot", Cause: err}
	}
	return &snap, nil
}

func (s *Store) streamKey(streamID string) string {
	return s.keyPrefix + "stream:" + streamID
}

func (s *Store) snapshotKey(streamID string) string {
	return s.keyPrefix + "snapshot:" + streamID
}
