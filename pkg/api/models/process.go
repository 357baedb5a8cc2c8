// Package models defines the request and response bodies of the HTTP API.
package models

import (
	"encoding/json"

	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/saga"
)

// ProcessEventRequest feeds one business event to a saga instance.
type ProcessEventRequest struct {
	// EventID makes redelivery idempotent. Generated when empty.
	EventID   string            `json:"event_id,omitempty" validate:"omitempty,max=128"`
	EventType string            `json:"event_type" validate:"required,max=128"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32,dive,keys,max=64,endkeys,max=512"`
}

// ProcessEventResponse is returned once the command committed.
type ProcessEventResponse struct {
	CommandID string     `json:"command_id"`
	EventID   string     `json:"event_id"`
	Result    any        `json:"result"`
	State     saga.State `json:"state"`
}

// EventHistoryResponse lists the committed events of one instance.
type EventHistoryResponse struct {
	Process    string        `json:"process"`
	InstanceID string        `json:"instance_id"`
	StreamID   string        `json:"stream_id"`
	Version    uint64        `json:"version"`
	Events     []event.Event `json:"events"`
}

// StageSummary describes one stage of a process graph.
type StageSummary struct {
	Name        string              `json:"name"`
	Terminal    bool                `json:"terminal"`
	Transitions []TransitionSummary `json:"transitions,omitempty"`
}

// TransitionSummary describes one outgoing edge.
type TransitionSummary struct {
	Name            string `json:"name"`
	OutputEventType string `json:"output_event_type"`
	Destination     string `json:"destination"`
}

// ProcessSummary describes a registered process.
type ProcessSummary struct {
	Name    string         `json:"name"`
	Initial string         `json:"initial"`
	Stages  []StageSummary `json:"stages"`
}

// ProcessListResponse lists registered processes sorted by name.
type ProcessListResponse struct {
	Processes []ProcessSummary `json:"processes"`
	Total     int              `json:"total"`
}

// SummarizeDefinition renders def in reachability order.
func SummarizeDefinition(def *saga.Definition) ProcessSummary {
	summary := ProcessSummary{Name: def.Name}
	if def.Initial != nil {
		summary.Initial = def.Initial.Name()
	}
	for _, stage := range def.Reachable() {
		ss := StageSummary{Name: stage.Name(), Terminal: stage.Terminal()}
		for _, name := range stage.TransitionNames() {
			t, _ := stage.Transition(name)
			ts := TransitionSummary{Name: name, OutputEventType: t.OutputEventType()}
			if dest := t.Destination(); dest != nil {
				ts.Destination = dest.Name()
			}
			ss.Transitions = append(ss.Transitions, ts)
		}
		summary.Stages = append(summary.Stages, ss)
	}
	return summary
}
