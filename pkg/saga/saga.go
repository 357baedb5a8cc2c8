package saga

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/sagaflow/pkg/aggregate"
	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/logger"
)

// Event types recorded by the engine itself.
const (
	EventEnqueued              = "EventEnqueued"
	TransitionCompleted        = "TransitionCompleted"
	TransitionConflictDetected = "TransitionConflictDetected"
)

// InitialPath is the first segment of every stage path.
const InitialPath = "init"

const pathSeparator = "."

type eventEnqueuedPayload struct {
	Event event.Event `json:"event"`
}

type transitionCompletedPayload struct {
	TransitionName string `json:"transition_name"`
	TriggerEventID string `json:"trigger_event_id"`
}

type transitionConflictPayload struct {
	CurrentStage     string   `json:"current_stage"`
	CurrentEventType string   `json:"current_event_type"`
	TriggerEventID   string   `json:"trigger_event_id"`
	Transitions      []string `json:"transitions"`
}

// Option configures a Saga instance.
type Option func(s *Saga)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Saga) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the instance logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Saga) {
		if l != nil {
			s.logger = l
		}
	}
}

// Saga is one running instance of a process. It is an event-sourced
// aggregate: every field below changes only inside an apply-handler.
//
// An instance is single-owner and must not be shared between goroutines.
type Saga struct {
	aggregate.Base

	process  string
	initial  *Stage
	current  *Stage
	path     []string
	enqueued []event.Event
	acc      Accumulator
	seen     map[string]struct{}
	err      error

	metrics MetricsRecorder
	logger  logger.Logger
}

// New creates an instance of process positioned at initial.
func New(id, process string, initial *Stage, opts ...Option) *Saga {
	s := &Saga{
		process: process,
		initial: initial,
		current: initial,
		path:    []string{InitialPath},
		acc:     Accumulator{},
		seen:    make(map[string]struct{}),
		metrics: &nopMetricsRecorder{},
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.Init(id)
	s.On(EventEnqueued, s.onEventEnqueued)
	s.On(TransitionCompleted, s.onTransitionCompleted)
	s.On(TransitionConflictDetected, s.onTransitionConflictDetected)
	s.OnDefault(s.onStageEvent)
	return s
}

// ProcessEvent feeds one business event to the instance and stages the
// resulting events. It returns the action result when a transition fires.
//
// A duplicate event id is a no-op. When several transitions match, a
// TransitionConflictDetected event is staged and *TransitionConflictError is
// returned. When the action fails its error is returned and nothing is staged.
func (s *Saga) ProcessEvent(ctx context.Context, evt event.Event, commit any) (any, error) {
	ctx, span := sagaTracer().Start(ctx, spanSagaProcessEvent,
		trace.WithAttributes(
			attribute.String("saga.process", s.process),
			attribute.String("saga.id", s.ID()),
			attribute.String("saga.stage", s.stageName()),
			attribute.String("event.type", evt.Type),
			attribute.String("event.id", evt.ID),
		),
	)
	defer span.End()

	result, outcome, err := s.processEvent(ctx, evt, commit)
	span.SetAttributes(attribute.String("saga.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Saga) processEvent(ctx context.Context, evt event.Event, commit any) (any, string, error) {
	if evt.ID == "" || evt.Type == "" {
		return nil, "invalid", ErrInvalidEvent
	}
	if _, dup := s.seen[evt.ID]; dup {
		s.metrics.RecordSagaDuplicate(s.process)
		return nil, "duplicate", nil
	}
	if s.current == nil {
		return nil, "invalid", fmt.Errorf("%w: instance has no current stage", ErrInvalidDefinition)
	}

	in := &Input{
		Event:       evt.Clone(),
		Commit:      commit,
		Enqueued:    event.CloneAll(s.enqueued),
		Accumulator: s.acc.Clone(),
	}
	matched := s.current.match(ctx, in)

	switch len(matched) {
	case 0:
		if _, err := s.StageEvent(EventEnqueued, eventEnqueuedPayload{Event: evt}); err != nil {
			return nil, "error", err
		}
		s.metrics.RecordSagaEnqueued(s.process, s.stageName())
		return nil, "enqueued", nil

	case 1:
		t := matched[0]
		result, err := t.run(ctx, in)
		if err != nil {
			return nil, "action_failed", err
		}
		if _, err := s.StageEvent(t.outputEventType, t.outputPayload(in, result)); err != nil {
			return nil, "error", err
		}
		if _, err := s.StageEvent(TransitionCompleted, transitionCompletedPayload{
			TransitionName: t.name,
			TriggerEventID: evt.ID,
		}); err != nil {
			return nil, "error", err
		}
		s.metrics.RecordSagaTransition(s.process, t.name)
		return result, "transitioned", nil

	default:
		names := make([]string, len(matched))
		for i, t := range matched {
			names[i] = t.name
		}
		stage := s.stageName()
		if _, err := s.StageEvent(TransitionConflictDetected, transitionConflictPayload{
			CurrentStage:     stage,
			CurrentEventType: evt.Type,
			TriggerEventID:   evt.ID,
			Transitions:      names,
		}); err != nil {
			return nil, "error", err
		}
		s.metrics.RecordSagaConflict(s.process, stage)
		s.logger.WarnContext(ctx, "saga transition conflict",
			"process", s.process, "saga_id", s.ID(), "stage", stage,
			"event_type", evt.Type, "transitions", names)
		return nil, "conflict", &TransitionConflictError{
			Stage:       stage,
			EventType:   evt.Type,
			EventID:     evt.ID,
			Transitions: names,
		}
	}
}

func (s *Saga) onEventEnqueued(evt event.Event) error {
	var p eventEnqueuedPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	s.enqueued = append(s.enqueued, p.Event)
	s.seen[p.Event.ID] = struct{}{}
	if s.current == nil {
		return nil
	}
	return s.current.dispatchEnqueued(p.Event, event.CloneAll(s.enqueued), s.acc)
}

func (s *Saga) onTransitionCompleted(evt event.Event) error {
	var p transitionCompletedPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	if s.current == nil {
		return fmt.Errorf("%w: %q from no stage", ErrUnknownTransition, p.TransitionName)
	}
	t, ok := s.current.transitions[p.TransitionName]
	if !ok || t.destination == nil {
		return fmt.Errorf("%w: %q in stage %q", ErrUnknownTransition, p.TransitionName, s.current.name)
	}
	s.current = t.destination
	s.path = append(s.path, p.TransitionName)
	s.enqueued = nil
	s.acc = Accumulator{}
	if p.TriggerEventID != "" {
		s.seen[p.TriggerEventID] = struct{}{}
	}
	return nil
}

func (s *Saga) onTransitionConflictDetected(evt event.Event) error {
	var p transitionConflictPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	s.err = &TransitionConflictError{
		Stage:       p.CurrentStage,
		EventType:   p.CurrentEventType,
		EventID:     p.TriggerEventID,
		Transitions: p.Transitions,
	}
	return nil
}

// onStageEvent lets a stage observe events with no engine meaning, such as
// transition output events, through an explicitly registered handler.
func (s *Saga) onStageEvent(evt event.Event) error {
	if s.current == nil {
		return nil
	}
	return s.current.dispatchTyped(evt, event.CloneAll(s.enqueued), s.acc)
}

// Process returns the process name.
func (s *Saga) Process() string {
	return s.process
}

// CurrentStage returns the stage the instance is in.
func (s *Saga) CurrentStage() *Stage {
	return s.current
}

// StagePath returns the dot-joined breadcrumb of transitions taken, starting with InitialPath.
func (s *Saga) StagePath() string {
	return strings.Join(s.path, pathSeparator)
}

// Enqueued returns a copy of the events received since the stage was entered.
func (s *Saga) Enqueued() []event.Event {
	return event.CloneAll(s.enqueued)
}

// Accumulator returns a copy of the stage working memory.
func (s *Saga) Accumulator() Accumulator {
	return s.acc.Clone()
}

// Seen reports whether an event id has already been processed.
func (s *Saga) Seen(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Err returns the last fatal condition recorded, if any.
func (s *Saga) Err() error {
	return s.err
}

func (s *Saga) stageName() string {
	if s.current == nil {
		return ""
	}
	return s.current.name
}
