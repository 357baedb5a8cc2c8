package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goclaw/sagaflow/pkg/event"
)

// StoreTestSuite runs the same behavioural checks against any Store implementation.
type StoreTestSuite struct {
	NewStore func(t *testing.T) Store
}

// RunAllTests runs every check in the suite.
func (s *StoreTestSuite) RunAllTests(t *testing.T) {
	t.Run("AppendAndLoad", s.TestAppendAndLoad)
	t.Run("LoadAfterVersion", s.TestLoadAfterVersion)
	t.Run("EmptyStream", s.TestEmptyStream)
	t.Run("ExpectedVersionConflict", s.TestExpectedVersionConflict)
	t.Run("ConcurrentAppenders", s.TestConcurrentAppenders)
	t.Run("StreamsAreIsolated", s.TestStreamsAreIsolated)
	t.Run("Snapshots", s.TestSnapshots)
	t.Run("Validation", s.TestValidation)
}

// TestAppendAndLoad appends two batches and reads them back in order.
func (s *StoreTestSuite) TestAppendAndLoad(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	v, err := store.Append(ctx, "order-1", 0, []event.Event{
		event.MustNew("OrderPlaced", map[string]any{"amount": 10}),
		event.MustNew("ItemPacked", nil),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if v != 2 {
		t.Fatalf("Append() version = %d, want 2", v)
	}

	v, err = store.Append(ctx, "order-1", 2, []event.Event{event.MustNew("PaymentCaptured", nil)})
	if err != nil {
		t.Fatalf("Append() second batch error = %v", err)
	}
	if v != 3 {
		t.Fatalf("Append() version = %d, want 3", v)
	}

	events, err := store.Load(ctx, "order-1", 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"OrderPlaced", "ItemPacked", "PaymentCaptured"}
	if len(events) != len(want) {
		t.Fatalf("Load() returned %d events, want %d", len(events), len(want))
	}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Fatalf("event %d type = %s, want %s", i, evt.Type, want[i])
		}
		if evt.Version != uint64(i+1) {
			t.Fatalf("event %d version = %d, want %d", i, evt.Version, i+1)
		}
		if evt.StreamID != "order-1" {
			t.Fatalf("event %d stream = %s, want order-1", i, evt.StreamID)
		}
	}

	var payload map[string]int
	if err := events[0].Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload["amount"] != 10 {
		t.Fatalf("payload amount = %d, want 10", payload["amount"])
	}
}

// TestLoadAfterVersion reads only the tail of a stream.
func (s *StoreTestSuite) TestLoadAfterVersion(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	batch := make([]event.Event, 5)
	for i := range batch {
		batch[i] = event.MustNew(fmt.Sprintf("E%d", i+1), nil)
	}
	if _, err := store.Append(ctx, "s", 0, batch); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	events, err := store.Load(ctx, "s", 3)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 2 || events[0].Type != "E4" || events[1].Type != "E5" {
		t.Fatalf("Load(after=3) = %+v, want E4,E5", events)
	}
}

// TestEmptyStream loads a stream that was never written.
func (s *StoreTestSuite) TestEmptyStream(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	events, err := store.Load(context.Background(), "missing", 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Load() returned %d events, want 0", len(events))
	}
}

// TestExpectedVersionConflict rejects a stale writer and leaves the stream untouched.
func (s *StoreTestSuite) TestExpectedVersionConflict(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Append(ctx, "s", 0, []event.Event{event.MustNew("A", nil)}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	_, err := store.Append(ctx, "s", 0, []event.Event{event.MustNew("B", nil)})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("Append() error = %v, want ErrConcurrencyConflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Append() error = %T, want *ConflictError", err)
	}
	if conflict.Expected != 0 || conflict.Actual != 1 {
		t.Fatalf("conflict = %+v, want expected 0 actual 1", conflict)
	}

	events, err := store.Load(ctx, "s", 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Load() returned %d events, want 1", len(events))
	}
}

// TestConcurrentAppenders lets several writers race for the same version; exactly one wins.
func (s *StoreTestSuite) TestConcurrentAppenders(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, "race", 0, []event.Event{event.MustNew(fmt.Sprintf("W%d", i), nil)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("Append() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1 (conflicts = %d)", successes, conflicts)
	}
	events, err := store.Load(ctx, "race", 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Load() returned %d events, want 1", len(events))
	}
}

// TestStreamsAreIsolated checks that versions are tracked per stream.
func (s *StoreTestSuite) TestStreamsAreIsolated(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Append(ctx, "a", 0, []event.Event{event.MustNew("A1", nil)}); err != nil {
		t.Fatalf("Append(a) error = %v", err)
	}
	if _, err := store.Append(ctx, "ab", 0, []event.Event{event.MustNew("AB1", nil)}); err != nil {
		t.Fatalf("Append(ab) error = %v", err)
	}

	events, err := store.Load(ctx, "a", 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 1 || events[0].Type != "A1" {
		t.Fatalf("Load(a) = %+v, want only A1", events)
	}
}

// TestSnapshots round-trips a snapshot when the store supports them.
func (s *StoreTestSuite) TestSnapshots(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	snaps, ok := store.(SnapshotStore)
	if !ok {
		t.Skip("store does not persist snapshots")
	}
	ctx := context.Background()

	if _, err := snaps.LoadSnapshot(ctx, "s"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("LoadSnapshot() error = %v, want ErrSnapshotNotFound", err)
	}

	for _, v := range []uint64{3, 7} {
		if err := snaps.SaveSnapshot(ctx, Snapshot{StreamID: "s", Version: v, Data: []byte(fmt.Sprintf(`{"v":%d}`, v))}); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
	}

	snap, err := snaps.LoadSnapshot(ctx, "s")
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if snap.Version != 7 || string(snap.Data) != `{"v":7}` {
		t.Fatalf("LoadSnapshot() = %+v, want version 7", snap)
	}
}

// TestValidation rejects malformed appends.
func (s *StoreTestSuite) TestValidation(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Append(ctx, "", 0, []event.Event{event.MustNew("A", nil)}); !errors.Is(err, ErrEmptyStreamID) {
		t.Fatalf("Append(empty stream) error = %v, want ErrEmptyStreamID", err)
	}
	if _, err := store.Append(ctx, "s", 0, []event.Event{{ID: "x"}}); !errors.Is(err, event.ErrEmptyType) {
		t.Fatalf("Append(untyped) error = %v, want ErrEmptyType", err)
	}
}
