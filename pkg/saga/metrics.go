package saga

// MetricsRecorder records saga runtime metrics. Only live processing is
// recorded; replay is silent.
type MetricsRecorder interface {
	RecordSagaTransition(process, transition string)
	RecordSagaEnqueued(process, stage string)
	RecordSagaConflict(process, stage string)
	RecordSagaDuplicate(process string)
}

type nopMetricsRecorder struct{}

func (n *nopMetricsRecorder) RecordSagaTransition(process, transition string) {}
func (n *nopMetricsRecorder) RecordSagaEnqueued(process, stage string)        {}
func (n *nopMetricsRecorder) RecordSagaConflict(process, stage string)        {}
func (n *nopMetricsRecorder) RecordSagaDuplicate(process string)              {}
