package saga

import (
	"context"
	"encoding/json"
	"maps"
	"strconv"

	"github.com/goclaw/sagaflow/pkg/event"
)

// Input is what deciders, actions and payload generators see for one event.
type Input struct {
	// Event is the event being processed.
	Event event.Event
	// Commit is the opaque handle passed to ProcessEvent.
	Commit any
	// Enqueued holds the events received since the stage was entered.
	Enqueued []event.Event
	// Accumulator is a copy of the stage's working memory.
	Accumulator Accumulator
}

// Decider reports whether a transition fires for the given input.
type Decider func(ctx context.Context, in *Input) bool

// Action performs the side effect of a chosen transition.
type Action func(ctx context.Context, in *Input) (any, error)

// PayloadGenerator builds the output event payload from the input and the action result.
type PayloadGenerator func(in *Input, result any) any

// Transition is an edge of the process graph.
type Transition struct {
	name            string
	decide          Decider
	act             Action
	outputEventType string
	payload         PayloadGenerator
	destination     *Stage
}

// TransitionOption configures a transition.
type TransitionOption func(t *Transition)

// WithAction sets the transition action. Without one the action yields nil.
func WithAction(fn Action) TransitionOption {
	return func(t *Transition) {
		t.act = fn
	}
}

// WithPayload sets the output payload generator. Without one the payload is empty.
func WithPayload(fn PayloadGenerator) TransitionOption {
	return func(t *Transition) {
		t.payload = fn
	}
}

// NewTransition creates a transition that records outputEventType when it fires.
// The destination is wired afterwards with SetDestination so graphs may contain cycles.
func NewTransition(name string, decide Decider, outputEventType string, opts ...TransitionOption) *Transition {
	t := &Transition{
		name:            name,
		decide:          decide,
		outputEventType: outputEventType,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// SetDestination wires the stage reached after the transition completes.
func (t *Transition) SetDestination(s *Stage) *Transition {
	t.destination = s
	return t
}

// Name returns the transition name.
func (t *Transition) Name() string {
	return t.name
}

// OutputEventType returns the domain event type recorded on completion.
func (t *Transition) OutputEventType() string {
	return t.outputEventType
}

// Destination returns the target stage, or nil if it was never wired.
func (t *Transition) Destination() *Stage {
	return t.destination
}

func (t *Transition) decides(ctx context.Context, in *Input) bool {
	if t.decide == nil {
		return false
	}
	return t.decide(ctx, in)
}

func (t *Transition) run(ctx context.Context, in *Input) (any, error) {
	if t.act == nil {
		return nil, nil
	}
	return t.act(ctx, in)
}

func (t *Transition) outputPayload(in *Input, result any) any {
	if t.payload == nil {
		return nil
	}
	return t.payload(in, result)
}

// Accumulator is the per-stage working memory of an instance. It is reset on
// every transition and serialized into snapshots, so values should be plain
// JSON data.
type Accumulator map[string]any

// Set stores a value.
func (a Accumulator) Set(key string, value any) {
	a[key] = value
}

// Get returns a raw value.
func (a Accumulator) Get(key string) (any, bool) {
	v, ok := a[key]
	return v, ok
}

// String returns a string value or "".
func (a Accumulator) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns an integer value or 0. Numbers restored from a snapshot are
// accepted as well as those set live.
func (a Accumulator) Int(key string) int64 {
	switch v := a[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, _ := v.Float64()
			return int64(f)
		}
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Float returns a floating point value or 0.
func (a Accumulator) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Clone returns a shallow copy.
func (a Accumulator) Clone() Accumulator {
	if a == nil {
		return Accumulator{}
	}
	return maps.Clone(a)
}
