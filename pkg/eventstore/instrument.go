package eventstore

import (
	"context"
	"errors"

	"github.com/goclaw/sagaflow/pkg/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sagaflow.eventstore"

const (
	spanAppend = "eventstore.append"
	spanLoad   = "eventstore.load"
)

// MetricsRecorder records event store outcomes.
type MetricsRecorder interface {
	RecordEventStoreAppend(backend, status string, events int)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordEventStoreAppend(string, string, int) {}

// InstrumentedStore decorates a Store with tracing spans and append metrics.
// It forwards snapshot calls when the wrapped store supports them.
type InstrumentedStore struct {
	Store
	backend string
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// Instrument wraps store. A nil recorder disables metrics.
func Instrument(store Store, backend string, recorder MetricsRecorder) *InstrumentedStore {
	if recorder == nil {
		recorder = nopMetricsRecorder{}
	}
	return &InstrumentedStore{
		Store:   store,
		backend: backend,
		metrics: recorder,
		tracer:  otel.Tracer(tracerName),
	}
}

// Append traces and records the wrapped Append.
func (s *InstrumentedStore) Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, spanAppend, trace.WithAttributes(
		attribute.String("eventstore.backend", s.backend),
		attribute.String("eventstore.stream_id", streamID),
		attribute.Int64("eventstore.expected_version", int64(expectedVersion)),
		attribute.Int("eventstore.events", len(events)),
	))
	defer span.End()

	version, err := s.Store.Append(ctx, streamID, expectedVersion, events)
	switch {
	case err == nil:
		s.metrics.RecordEventStoreAppend(s.backend, "success", len(events))
		span.SetAttributes(attribute.Int64("eventstore.version", int64(version)))
	case errors.Is(err, ErrConcurrencyConflict):
		s.metrics.RecordEventStoreAppend(s.backend, "conflict", len(events))
		span.SetStatus(codes.Error, "conflict")
	default:
		s.metrics.RecordEventStoreAppend(s.backend, "error", len(events))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return version, err
}

// Load traces the wrapped Load.
func (s *InstrumentedStore) Load(ctx context.Context, streamID string, afterVersion uint64) ([]event.Event, error) {
	ctx, span := s.tracer.Start(ctx, spanLoad, trace.WithAttributes(
		attribute.String("eventstore.backend", s.backend),
		attribute.String("eventstore.stream_id", streamID),
	))
	defer span.End()

	events, err := s.Store.Load(ctx, streamID, afterVersion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("eventstore.events", len(events)))
	return events, nil
}

// SaveSnapshot forwards to the wrapped store if it stores snapshots.
func (s *InstrumentedStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	snaps, ok := s.Store.(SnapshotStore)
	if !ok {
		return nil
	}
	return snaps.SaveSnapshot(ctx, snap)
}

// LoadSnapshot forwards to the wrapped store if it stores snapshots.
func (s *InstrumentedStore) LoadSnapshot(ctx context.Context, streamID string) (*Snapshot, error) {
	snaps, ok := s.Store.(SnapshotStore)
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snaps.LoadSnapshot(ctx, streamID)
}
