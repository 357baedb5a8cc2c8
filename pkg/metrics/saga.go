package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics() {
	m.sagaTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_transitions_total",
			Help:      "Total number of fired saga transitions",
		},
		[]string{"process", "transition"},
	)

	m.sagaEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_enqueued_total",
			Help:      "Total number of events enqueued without a matching transition",
		},
		[]string{"process", "stage"},
	)

	m.sagaConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_conflicts_total",
			Help:      "Total number of events matched by more than one transition",
		},
		[]string{"process", "stage"},
	)

	m.sagaDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_duplicates_total",
			Help:      "Total number of redelivered events ignored by id",
		},
		[]string{"process"},
	)

	m.registry.MustRegister(m.sagaTransitions)
	m.registry.MustRegister(m.sagaEnqueued)
	m.registry.MustRegister(m.sagaConflicts)
	m.registry.MustRegister(m.sagaDuplicates)
}

// RecordSagaTransition records a fired transition.
func (m *Manager) RecordSagaTransition(process, transition string) {
	if !m.enabled {
		return
	}
	m.sagaTransitions.WithLabelValues(process, transition).Inc()
}

// RecordSagaEnqueued records an enqueued event.
func (m *Manager) RecordSagaEnqueued(process, stage string) {
	if !m.enabled {
		return
	}
	m.sagaEnqueued.WithLabelValues(process, stage).Inc()
}

// RecordSagaConflict records a transition conflict.
func (m *Manager) RecordSagaConflict(process, stage string) {
	if !m.enabled {
		return
	}
	m.sagaConflicts.WithLabelValues(process, stage).Inc()
}

// RecordSagaDuplicate records an ignored duplicate delivery.
func (m *Manager) RecordSagaDuplicate(process string) {
	if !m.enabled {
		return
	}
	m.sagaDuplicates.WithLabelValues(process).Inc()
}
