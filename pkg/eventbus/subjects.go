package eventbus

import (
	"fmt"
	"strings"
)

const (
	// SubjectPrefix is the canonical prefix for committed events.
	SubjectPrefix = "sagaflow.v1.events"
)

var segmentReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// EventSubject returns the subject of one committed event:
// <prefix>.<stream>.<type>.
func EventSubject(prefix, streamID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", prefixOrDefault(prefix), sanitizeSegment(streamID), sanitizeSegment(eventType))
}

// StreamSubject matches every event of one stream.
func StreamSubject(prefix, streamID string) string {
	return fmt.Sprintf("%s.%s.*", prefixOrDefault(prefix), sanitizeSegment(streamID))
}

// AllEventsSubject matches every committed event.
func AllEventsSubject(prefix string) string {
	return prefixOrDefault(prefix) + ".>"
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return SubjectPrefix
	}
	return strings.TrimSuffix(prefix, ".")
}

// sanitizeSegment keeps a value inside one subject segment.
func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(value)
}
