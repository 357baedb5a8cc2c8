package eventbus

import (
	"context"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/logger"
)

// PublishingStore decorates an eventstore.Store and publishes every event of
// a successful append, in stream order. Publish failures are logged and never
// fail the append: the events are already committed.
type PublishingStore struct {
	eventstore.Store
	publisher *Publisher
	log       logger.Logger
}

// NewPublishingStore wraps store. A nil logger uses the global logger.
func NewPublishingStore(store eventstore.Store, publisher *Publisher, log logger.Logger) *PublishingStore {
	if log == nil {
		log = logger.Global()
	}
	return &PublishingStore{Store: store, publisher: publisher, log: log}
}

// Append appends to the wrapped store, then publishes the committed events.
func (s *PublishingStore) Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	version, err := s.Store.Append(ctx, streamID, expectedVersion, events)
	if err != nil || s.publisher == nil || len(events) == 0 {
		return version, err
	}

	committed, prepErr := eventstore.Prepare(streamID, expectedVersion, events)
	if prepErr != nil {
		return version, nil
	}
	// The request may be cancelled right after the commit; publishing still happens.
	pubCtx := context.WithoutCancel(ctx)
	for _, evt := range committed {
		if _, pubErr := s.publisher.PublishEvent(pubCtx, evt); pubErr != nil {
			s.log.WarnContext(ctx, "publish committed event failed",
				"stream_id", streamID, "version", evt.Version, "event_type", evt.Type, "error", pubErr)
		}
	}
	return version, nil
}

// SaveSnapshot forwards to the wrapped store if it stores snapshots.
func (s *PublishingStore) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	snaps, ok := s.Store.(eventstore.SnapshotStore)
	if !ok {
		return nil
	}
	return snaps.SaveSnapshot(ctx, snap)
}

// LoadSnapshot forwards to the wrapped store if it stores snapshots.
func (s *PublishingStore) LoadSnapshot(ctx context.Context, streamID string) (*eventstore.Snapshot, error) {
	snaps, ok := s.Store.(eventstore.SnapshotStore)
	if !ok {
		return nil, eventstore.ErrSnapshotNotFound
	}
	return snaps.LoadSnapshot(ctx, streamID)
}
