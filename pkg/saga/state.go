package saga

import "github.com/goclaw/sagaflow/pkg/event"

// State is a read-only view of an instance, suitable for JSON responses.
type State struct {
	Process     string        `json:"process"`
	ID          string        `json:"id"`
	Version     uint64        `json:"version"`
	Stage       string        `json:"stage"`
	StagePath   string        `json:"stage_path"`
	Terminal    bool          `json:"terminal"`
	Enqueued    []event.Event `json:"enqueued_events"`
	Accumulator Accumulator   `json:"stage_accumulator"`
	Error       string        `json:"error,omitempty"`
}

// State returns a snapshot view of the instance.
func (s *Saga) State() State {
	st := State{
		Process:     s.process,
		ID:          s.ID(),
		Version:     s.Version(),
		Stage:       s.stageName(),
		StagePath:   s.StagePath(),
		Terminal:    s.current == nil || s.current.Terminal(),
		Enqueued:    event.CloneAll(s.enqueued),
		Accumulator: s.acc.Clone(),
	}
	if st.Enqueued == nil {
		st.Enqueued = []event.Event{}
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}
