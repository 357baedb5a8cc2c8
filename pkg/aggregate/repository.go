package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/logger"
)

// Repository loads aggregates from an event store and commits their pending events.
type Repository struct {
	store         eventstore.Store
	snapshots     eventstore.SnapshotStore
	snapshotEvery uint64
	logger        logger.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithSnapshotStore enables snapshot restore and capture.
func WithSnapshotStore(store eventstore.SnapshotStore) RepositoryOption {
	return func(r *Repository) {
		r.snapshots = store
	}
}

// WithSnapshotEvery captures a snapshot whenever a commit crosses a multiple of n events.
// Zero disables capture; restore still uses any snapshot present.
func WithSnapshotEvery(n uint64) RepositoryOption {
	return func(r *Repository) {
		r.snapshotEvery = n
	}
}

// WithRepositoryLogger sets the logger.
func WithRepositoryLogger(l logger.Logger) RepositoryOption {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRepository creates a repository over store.
func NewRepository(store eventstore.Store, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:  store,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load constructs an aggregate and brings it up to date with its stream.
func (r *Repository) Load(ctx context.Context, agg Aggregate) error {
	base := agg.Root()
	if base.ID() == "" {
		return eventstore.ErrEmptyStreamID
	}

	after := uint64(0)
	if snapper, ok := agg.(Snapshotter); ok && r.snapshots != nil {
		snap, err := r.snapshots.LoadSnapshot(ctx, base.ID())
		switch {
		case err == nil:
			if err := snapper.RestoreSnapshot(snap.Data); err != nil {
				return fmt.Errorf("aggregate: restore snapshot %s@%d: %w", base.ID(), snap.Version, err)
			}
			base.version = snap.Version
			after = snap.Version
		case errors.Is(err, eventstore.ErrSnapshotNotFound):
		default:
			return fmt.Errorf("aggregate: load snapshot %s: %w", base.ID(), err)
		}
	}

	events, err := r.store.Load(ctx, base.ID(), after)
	if err != nil {
		return fmt.Errorf("aggregate: load stream %s: %w", base.ID(), err)
	}
	for _, evt := range events {
		if err := base.Replay(evt); err != nil {
			return err
		}
	}

	base.bind(agg, r)
	return nil
}

// History returns every committed event of a stream.
func (r *Repository) History(ctx context.Context, id string) ([]event.Event, error) {
	return r.store.Load(ctx, id, 0)
}

func (r *Repository) commit(ctx context.Context, agg Aggregate, metadata map[string]string) error {
	base := agg.Root()
	if !base.HasPending() {
		return nil
	}

	before := base.version
	events := base.pendingWithMetadata(metadata)
	version, err := r.store.Append(ctx, base.ID(), before, events)
	if err != nil {
		return err
	}
	base.markCommitted(version)

	if r.shouldSnapshot(before, version) {
		r.saveSnapshot(ctx, agg, version)
	}
	return nil
}

func (r *Repository) shouldSnapshot(before, after uint64) bool {
	if r.snapshots == nil || r.snapshotEvery == 0 {
		return false
	}
	return before/r.snapshotEvery != after/r.snapshotEvery
}

// saveSnapshot is best effort; the stream stays the source of truth.
func (r *Repository) saveSnapshot(ctx context.Context, agg Aggregate, version uint64) {
	snapper, ok := agg.(Snapshotter)
	if !ok {
		return
	}
	data, err := snapper.SnapshotData()
	if err != nil {
		r.logger.WarnContext(ctx, "snapshot capture failed", "aggregate_id", agg.Root().ID(), "version", version, "error", err)
		return
	}
	if err := r.snapshots.SaveSnapshot(ctx, eventstore.Snapshot{
		StreamID: agg.Root().ID(),
		Version:  version,
		Data:     data,
	}); err != nil {
		r.logger.WarnContext(ctx, "snapshot save failed", "aggregate_id", agg.Root().ID(), "version", version, "error", err)
		return
	}
	r.logger.DebugContext(ctx, "snapshot saved", "aggregate_id", agg.Root().ID(), "version", version)
}

// Load builds an aggregate with factory and loads it from the repository.
func Load[T Aggregate](ctx context.Context, r *Repository, factory Factory[T], id string) (T, error) {
	agg := factory(id)
	if err := r.Load(ctx, agg); err != nil {
		var zero T
		return zero, err
	}
	return agg, nil
}

// LoaderFor adapts a repository to the loader signature used by command execution.
func LoaderFor[T Aggregate](r *Repository) func(ctx context.Context, factory Factory[T], id string) (T, error) {
	return func(ctx context.Context, factory Factory[T], id string) (T, error) {
		return Load(ctx, r, factory, id)
	}
}
