package saga

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goclaw/sagaflow/pkg/event"
)

// snapshotState is the serialized form of an instance. Collections are never
// null so a restored instance serializes to the same bytes as a replayed one.
type snapshotState struct {
	StagePath        string        `json:"stage_path"`
	EnqueuedEvents   []event.Event `json:"enqueued_events"`
	StageAccumulator Accumulator   `json:"stage_accumulator"`
	SeenEventIDs     []string      `json:"seen_event_ids"`

	LastError *transitionConflictPayload `json:"last_error,omitempty"`
}

// SnapshotData implements aggregate.Snapshotter.
func (s *Saga) SnapshotData() ([]byte, error) {
	seen := make([]string, 0, len(s.seen))
	for id := range s.seen {
		seen = append(seen, id)
	}
	sort.Strings(seen)

	enqueued := event.CloneAll(s.enqueued)
	if enqueued == nil {
		enqueued = []event.Event{}
	}

	state := snapshotState{
		StagePath:        s.StagePath(),
		EnqueuedEvents:   enqueued,
		StageAccumulator: s.acc.Clone(),
		SeenEventIDs:     seen,
	}
	var conflict *TransitionConflictError
	if errors.As(s.err, &conflict) {
		state.LastError = &transitionConflictPayload{
			CurrentStage:     conflict.Stage,
			CurrentEventType: conflict.EventType,
			TriggerEventID:   conflict.EventID,
			Transitions:      append([]string(nil), conflict.Transitions...),
		}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("saga: marshal snapshot: %w", err)
	}
	return data, nil
}

// RestoreSnapshot implements aggregate.Snapshotter. The stage is found by
// walking the recorded path from the initial stage.
func (s *Saga) RestoreSnapshot(data []byte) error {
	var state snapshotState
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&state); err != nil {
		return fmt.Errorf("saga: unmarshal snapshot: %w", err)
	}

	segments := strings.Split(state.StagePath, pathSeparator)
	if len(segments) == 0 || segments[0] != InitialPath {
		return fmt.Errorf("saga: snapshot path %q does not start at %q", state.StagePath, InitialPath)
	}
	stage := s.initial
	for _, name := range segments[1:] {
		if stage == nil {
			return fmt.Errorf("%w: %q after a nil stage", ErrUnknownTransition, name)
		}
		t, ok := stage.transitions[name]
		if !ok || t.destination == nil {
			return fmt.Errorf("%w: %q in stage %q", ErrUnknownTransition, name, stage.name)
		}
		stage = t.destination
	}

	s.current = stage
	s.path = segments
	s.enqueued = nil
	if len(state.EnqueuedEvents) > 0 {
		s.enqueued = state.EnqueuedEvents
	}
	s.acc = state.StageAccumulator
	if s.acc == nil {
		s.acc = Accumulator{}
	}
	s.seen = make(map[string]struct{}, len(state.SeenEventIDs))
	for _, id := range state.SeenEventIDs {
		s.seen[id] = struct{}{}
	}
	s.err = nil
	if p := state.LastError; p != nil {
		s.err = &TransitionConflictError{
			Stage:       p.CurrentStage,
			EventType:   p.CurrentEventType,
			EventID:     p.TriggerEventID,
			Transitions: p.Transitions,
		}
	}
	return nil
}
