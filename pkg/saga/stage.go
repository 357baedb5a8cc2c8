// Package saga implements long-running processes as event-sourced state machines.
//
// A process is a graph of Stages joined by Transitions. A Saga instance reacts
// to business events: it enqueues events no transition claims, fires the one
// transition whose decider matches, and records an audit event when several
// match. All instance state is rebuilt by replaying its stream.
package saga

import (
	"context"
	"sort"

	"github.com/goclaw/sagaflow/pkg/event"
)

// StageHandler folds an event received while a stage is open into the
// stage's working memory. It runs on live processing and on replay alike, so
// it must depend only on its arguments.
type StageHandler func(evt event.Event, enqueued []event.Event, acc Accumulator) error

// Stage is one state of a process. Stages are built once and shared read-only
// by every instance of the process.
type Stage struct {
	name        string
	transitions map[string]*Transition
	handlers    map[string]StageHandler
	fallback    StageHandler
	duplicates  []string
}

// NewStage creates an empty stage.
func NewStage(name string) *Stage {
	return &Stage{
		name:        name,
		transitions: make(map[string]*Transition),
		handlers:    make(map[string]StageHandler),
	}
}

// Name returns the stage name.
func (s *Stage) Name() string {
	return s.name
}

// AddTransition registers t under its name. A second transition with the same
// name replaces the first and is reported by Definition.Validate.
func (s *Stage) AddTransition(t *Transition) *Stage {
	if t == nil {
		return s
	}
	if _, exists := s.transitions[t.name]; exists {
		s.duplicates = append(s.duplicates, t.name)
	}
	s.transitions[t.name] = t
	return s
}

// On registers the handler for one event type while the stage is open.
func (s *Stage) On(eventType string, h StageHandler) *Stage {
	s.handlers[eventType] = h
	return s
}

// OnDefault registers the handler for enqueued events without a typed handler.
func (s *Stage) OnDefault(h StageHandler) *Stage {
	s.fallback = h
	return s
}

// Transition looks up an outgoing transition by name.
func (s *Stage) Transition(name string) (*Transition, bool) {
	t, ok := s.transitions[name]
	return t, ok
}

// TransitionNames returns outgoing transition names in evaluation order.
func (s *Stage) TransitionNames() []string {
	names := make([]string, 0, len(s.transitions))
	for name := range s.transitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Terminal reports whether the stage has no outgoing transitions.
func (s *Stage) Terminal() bool {
	return len(s.transitions) == 0
}

// match returns the transitions whose deciders accept in, sorted by name.
func (s *Stage) match(ctx context.Context, in *Input) []*Transition {
	var matched []*Transition
	for _, name := range s.TransitionNames() {
		t := s.transitions[name]
		if t.decides(ctx, in) {
			matched = append(matched, t)
		}
	}
	return matched
}

// dispatchEnqueued runs the typed handler, else the default handler, else nothing.
func (s *Stage) dispatchEnqueued(evt event.Event, enqueued []event.Event, acc Accumulator) error {
	if h, ok := s.handlers[evt.Type]; ok && h != nil {
		return h(evt, enqueued, acc)
	}
	if s.fallback != nil {
		return s.fallback(evt, enqueued, acc)
	}
	return nil
}

// dispatchTyped runs only an explicitly registered handler.
func (s *Stage) dispatchTyped(evt event.Event, enqueued []event.Event, acc Accumulator) error {
	if h, ok := s.handlers[evt.Type]; ok && h != nil {
		return h(evt, enqueued, acc)
	}
	return nil
}
