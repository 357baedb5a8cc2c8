package saga

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransitionConflict matches every *TransitionConflictError.
	ErrTransitionConflict = errors.New("saga: transition conflict")
	// ErrUnknownTransition is returned when a completed transition is missing from the current stage.
	ErrUnknownTransition = errors.New("saga: unknown transition")
	// ErrInvalidEvent is returned for events without an id or a type.
	ErrInvalidEvent = errors.New("saga: event requires id and type")
	// ErrInvalidDefinition wraps every Definition.Validate failure.
	ErrInvalidDefinition = errors.New("saga: invalid definition")
	// ErrProcessNotFound is returned by Registry.Get for unknown names.
	ErrProcessNotFound = errors.New("saga: process not found")
	// ErrProcessExists is returned when a process name is registered twice.
	ErrProcessExists = errors.New("saga: process already registered")
)

// TransitionConflictError reports that several transitions matched one event.
// It signals overlapping deciders in the graph, not a transient condition.
type TransitionConflictError struct {
	Stage       string
	EventType   string
	EventID     string
	Transitions []string
}

func (e *TransitionConflictError) Error() string {
	return fmt.Sprintf("saga: transition conflict in stage %q on %s: %s",
		e.Stage, e.EventType, strings.Join(e.Transitions, ", "))
}

// Is matches ErrTransitionConflict.
func (e *TransitionConflictError) Is(target error) bool {
	return target == ErrTransitionConflict
}

// CommitOnFailure asks the command executor to persist the staged
// TransitionConflictDetected event even though the command fails.
func (e *TransitionConflictError) CommitOnFailure() bool {
	return true
}
