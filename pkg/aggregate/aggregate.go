// Package aggregate provides the event-sourced aggregate base and its repository.
//
// State changes only through handlers registered per event type. The same
// handlers run when an event is staged live and when history is replayed,
// so a loaded aggregate is always the fold of its stream.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/goclaw/sagaflow/pkg/event"
)

var (
	// ErrUnhandledEvent is returned when no handler exists and missing handlers are disallowed.
	ErrUnhandledEvent = errors.New("aggregate: no handler for event type")
	// ErrNotBound is returned by Commit on an aggregate that was not loaded through a Repository.
	ErrNotBound = errors.New("aggregate: no committer bound")
)

// Handler applies one event to aggregate state.
type Handler func(evt event.Event) error

// Aggregate is implemented by embedding Base.
type Aggregate interface {
	Root() *Base
}

// Factory constructs an empty aggregate for id.
type Factory[T Aggregate] func(id string) T

// Snapshotter is implemented by aggregates that can serialize their state.
type Snapshotter interface {
	SnapshotData() ([]byte, error)
	RestoreSnapshot(data []byte) error
}

// committer persists staged events for a Base.
type committer interface {
	commit(ctx context.Context, agg Aggregate, metadata map[string]string) error
}

// Base holds the identity, version, handler table and pending events of an aggregate.
type Base struct {
	id           string
	version      uint64
	pending      []event.Event
	handlers     map[string]Handler
	fallback     Handler
	allowMissing bool

	self      Aggregate
	committer committer
}

// Init sets the identity. Missing handlers are tolerated until AllowMissingHandlers(false).
func (b *Base) Init(id string) {
	b.id = id
	b.allowMissing = true
	if b.handlers == nil {
		b.handlers = make(map[string]Handler)
	}
}

// Root returns b.
func (b *Base) Root() *Base {
	return b
}

// ID returns the aggregate identity.
func (b *Base) ID() string {
	return b.id
}

// Version returns the version of the last committed or replayed event.
func (b *Base) Version() uint64 {
	return b.version
}

// On registers the handler for one event type.
func (b *Base) On(eventType string, h Handler) {
	if b.handlers == nil {
		b.handlers = make(map[string]Handler)
	}
	b.handlers[eventType] = h
}

// OnDefault registers the handler for event types without a specific handler.
func (b *Base) OnDefault(h Handler) {
	b.fallback = h
}

// AllowMissingHandlers controls whether an event with no handler is ignored or rejected.
func (b *Base) AllowMissingHandlers(allow bool) {
	b.allowMissing = allow
}

// Apply dispatches evt to its handler, the default handler, or nothing.
func (b *Base) Apply(evt event.Event) error {
	if h, ok := b.handlers[evt.Type]; ok {
		return h(evt)
	}
	if b.fallback != nil {
		return b.fallback(evt)
	}
	if b.allowMissing {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnhandledEvent, evt.Type)
}

// Replay applies a historical event and advances the version to it.
func (b *Base) Replay(evt event.Event) error {
	if err := b.Apply(evt); err != nil {
		return fmt.Errorf("aggregate: replay %s v%d: %w", evt.Type, evt.Version, err)
	}
	if evt.Version > b.version {
		b.version = evt.Version
	} else {
		b.version++
	}
	return nil
}

// StageEvent builds an event, applies it and queues it for the next commit.
func (b *Base) StageEvent(eventType string, payload any) (event.Event, error) {
	evt, err := event.New(eventType, payload)
	if err != nil {
		return event.Event{}, err
	}
	return evt, b.Stage(evt)
}

// Stage applies evt and queues it for the next commit. A failing handler leaves nothing queued.
func (b *Base) Stage(evt event.Event) error {
	if err := b.Apply(evt); err != nil {
		return err
	}
	b.pending = append(b.pending, evt)
	return nil
}

// Pending returns a copy of the events staged since the last commit.
func (b *Base) Pending() []event.Event {
	return event.CloneAll(b.pending)
}

// HasPending reports whether any events await commit.
func (b *Base) HasPending() bool {
	return len(b.pending) > 0
}

// Commit persists pending events at the current version.
// On success pending is cleared and the version advances; on failure nothing changes.
func (b *Base) Commit(ctx context.Context, metadata map[string]string) error {
	if b.committer == nil {
		return ErrNotBound
	}
	self := b.self
	if self == nil {
		self = b
	}
	return b.committer.commit(ctx, self, metadata)
}

func (b *Base) bind(self Aggregate, c committer) {
	b.self = self
	b.committer = c
}

// pendingWithMetadata returns pending events with metadata merged in.
func (b *Base) pendingWithMetadata(metadata map[string]string) []event.Event {
	out := event.CloneAll(b.pending)
	if len(metadata) == 0 {
		return out
	}
	for i := range out {
		merged := maps.Clone(metadata)
		maps.Copy(merged, out[i].Metadata)
		out[i].Metadata = merged
	}
	return out
}

func (b *Base) markCommitted(version uint64) {
	b.pending = nil
	b.version = version
}
