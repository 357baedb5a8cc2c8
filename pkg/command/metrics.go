package command

import "time"

// MetricsRecorder records command execution metrics.
type MetricsRecorder interface {
	// RecordCommandAttempt is called once per attempt with "success" or the failure category.
	RecordCommandAttempt(outcome string)
	RecordCommandRetry(category string)
	RecordCommandResult(status string, duration time.Duration)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordCommandAttempt(outcome string)                       {}
func (nopMetricsRecorder) RecordCommandRetry(category string)                        {}
func (nopMetricsRecorder) RecordCommandResult(status string, duration time.Duration) {}
