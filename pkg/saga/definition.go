package saga

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goclaw/sagaflow/pkg/aggregate"
)

// Definition names a process and its stage graph.
type Definition struct {
	Name    string
	Initial *Stage
	// Stages optionally lists every stage of the process so that Validate can
	// report stages unreachable from Initial.
	Stages []*Stage
}

// NewDefinition creates a process definition.
func NewDefinition(name string, initial *Stage, stages ...*Stage) *Definition {
	return &Definition{Name: name, Initial: initial, Stages: stages}
}

// Validate checks the graph for build mistakes that would otherwise surface
// only at runtime: unwired destinations, duplicate names, empty output event
// types and unreachable stages.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: definition cannot be nil", ErrInvalidDefinition)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: process name cannot be empty", ErrInvalidDefinition)
	}
	if d.Initial == nil {
		return fmt.Errorf("%w: process %q has no initial stage", ErrInvalidDefinition, d.Name)
	}

	var errs []error
	reachable := d.Reachable()
	byName := make(map[string]*Stage, len(reachable))
	for _, stage := range reachable {
		if other, ok := byName[stage.name]; ok && other != stage {
			errs = append(errs, fmt.Errorf("duplicate stage name %q", stage.name))
		}
		byName[stage.name] = stage

		for _, name := range stage.duplicates {
			errs = append(errs, fmt.Errorf("stage %q: duplicate transition %q", stage.name, name))
		}
		for _, name := range stage.TransitionNames() {
			t := stage.transitions[name]
			switch {
			case name == "" || strings.Contains(name, pathSeparator):
				errs = append(errs, fmt.Errorf("stage %q: invalid transition name %q", stage.name, name))
			case t.decide == nil:
				errs = append(errs, fmt.Errorf("stage %q: transition %q has no decider", stage.name, name))
			case t.outputEventType == "":
				errs = append(errs, fmt.Errorf("stage %q: transition %q has no output event type", stage.name, name))
			case t.destination == nil:
				errs = append(errs, fmt.Errorf("stage %q: transition %q has no destination", stage.name, name))
			}
		}
	}

	for _, stage := range d.Stages {
		if stage == nil {
			continue
		}
		if byName[stage.name] != stage {
			errs = append(errs, fmt.Errorf("stage %q is unreachable from %q", stage.name, d.Initial.name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: process %q: %w", ErrInvalidDefinition, d.Name, errors.Join(errs...))
	}
	return nil
}

// Reachable returns the stages reachable from Initial in breadth-first order.
func (d *Definition) Reachable() []*Stage {
	if d == nil || d.Initial == nil {
		return nil
	}
	visited := map[*Stage]bool{d.Initial: true}
	order := []*Stage{d.Initial}
	for i := 0; i < len(order); i++ {
		stage := order[i]
		for _, name := range stage.TransitionNames() {
			next := stage.transitions[name].destination
			if next == nil || visited[next] {
				continue
			}
			visited[next] = true
			order = append(order, next)
		}
	}
	return order
}

// StreamSeparator joins a process name and an instance id into a stream id.
const StreamSeparator = "/"

// StreamID returns the event stream that holds instance id of the process.
// Instances of different processes never share a stream.
func (d *Definition) StreamID(id string) string {
	return d.Name + StreamSeparator + id
}

// New creates an instance of the process.
func (d *Definition) New(id string, opts ...Option) *Saga {
	return New(id, d.Name, d.Initial, opts...)
}

// Factory returns an aggregate factory for instances of the process.
func (d *Definition) Factory(opts ...Option) aggregate.Factory[*Saga] {
	return func(id string) *Saga {
		return d.New(id, opts...)
	}
}
