package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/eventstore/memory"
	"github.com/goclaw/sagaflow/pkg/logger"
)

func newPublishingStore(t *testing.T, transport Transport) (*PublishingStore, *memory.Store) {
	t.Helper()
	inner := memory.New()
	publisher, err := NewPublisher("node-1", transport, RetryConfig{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}, nil)
	require.NoError(t, err)
	return NewPublishingStore(inner, publisher, logger.Nop()), inner
}

func TestPublishingStore_PublishesCommittedEvents(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), StreamSubject("", "order-1"), 8)
	require.NoError(t, err)

	store, _ := newPublishingStore(t, bus)
	ctx := context.Background()

	version, err := store.Append(ctx, "order-1", 0, []event.Event{
		event.MustNew("OrderPlaced", map[string]any{"order_id": "order-1"}),
		event.MustNew("ItemPacked", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	for want := int64(1); want <= 2; want++ {
		var env Envelope
		require.NoError(t, json.Unmarshal(receive(t, sub).Payload, &env))
		assert.Equal(t, want, env.Sequence)
		assert.Equal(t, "order-1", env.StreamID)
	}

	loaded, err := store.Load(ctx, "order-1", 0)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestPublishingStore_ConflictPublishesNothing(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), AllEventsSubject(""), 8)
	require.NoError(t, err)

	store, _ := newPublishingStore(t, bus)
	ctx := context.Background()
	_, err = store.Append(ctx, "s", 0, []event.Event{event.MustNew("A", nil)})
	require.NoError(t, err)
	receive(t, sub)

	_, err = store.Append(ctx, "s", 0, []event.Event{event.MustNew("B", nil)})
	assert.True(t, errors.Is(err, eventstore.ErrConcurrencyConflict))
	expectNone(t, sub)
}

func TestPublishingStore_PublishFailureDoesNotFailAppend(t *testing.T) {
	transport := &flakyTransport{bus: NewMemoryBus()}
	transport.failCount.Store(10)

	store, inner := newPublishingStore(t, transport)
	version, err := store.Append(context.Background(), "s", 0, []event.Event{event.MustNew("A", nil)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	events, err := inner.Load(context.Background(), "s", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublishingStore_ForwardsSnapshots(t *testing.T) {
	store, _ := newPublishingStore(t, NewMemoryBus())
	ctx := context.Background()

	_, err := store.LoadSnapshot(ctx, "s")
	assert.ErrorIs(t, err, eventstore.ErrSnapshotNotFound)

	require.NoError(t, store.SaveSnapshot(ctx, eventstore.Snapshot{StreamID: "s", Version: 3, Data: json.RawMessage(`{}`)}))
	snap, err := store.LoadSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Version)
}
