package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initEventStoreMetrics() {
	m.eventStoreAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventstore_appends_total",
			Help:      "Total number of event store appends by backend and status",
		},
		[]string{"backend", "status"},
	)

	m.eventStoreEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventstore_events_total",
			Help:      "Total number of events written by backend",
		},
		[]string{"backend"},
	)

	m.registry.MustRegister(m.eventStoreAppends)
	m.registry.MustRegister(m.eventStoreEvents)
}

// RecordEventStoreAppend records one append call.
func (m *Manager) RecordEventStoreAppend(backend, status string, events int) {
	if !m.enabled {
		return
	}
	m.eventStoreAppends.WithLabelValues(backend, status).Inc()
	if status == "success" && events > 0 {
		m.eventStoreEvents.WithLabelValues(backend).Add(float64(events))
	}
}
