package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initEventBusMetrics() {
	m.eventBusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_published_total",
			Help:      "Total number of committed-event publishes by status",
		},
		[]string{"status"},
	)

	m.eventBusRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_retries_total",
		Help:      "Total number of publish retries",
	})

	m.eventBusDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "eventbus_degraded",
		Help:      "1 while the event bus publisher is in degraded mode",
	})

	m.eventBusOutages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_outages_total",
		Help:      "Total number of transitions into degraded mode",
	})

	m.eventBusRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_recoveries_total",
		Help:      "Total number of transitions out of degraded mode",
	})

	m.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Number of connected websocket event stream clients",
	})

	m.registry.MustRegister(
		m.eventBusPublished,
		m.eventBusRetries,
		m.eventBusDegraded,
		m.eventBusOutages,
		m.eventBusRecoveries,
		m.wsClients,
	)
}

// RecordPublish records one publish outcome.
func (m *Manager) RecordPublish(status string) {
	if !m.enabled {
		return
	}
	m.eventBusPublished.WithLabelValues(status).Inc()
}

// RecordRetry records one publish retry.
func (m *Manager) RecordRetry() {
	if !m.enabled {
		return
	}
	m.eventBusRetries.Inc()
}

// SetDegradedMode sets the degraded gauge.
func (m *Manager) SetDegradedMode(active bool) {
	if !m.enabled {
		return
	}
	if active {
		m.eventBusDegraded.Set(1)
		return
	}
	m.eventBusDegraded.Set(0)
}

// RecordOutage records entering degraded mode.
func (m *Manager) RecordOutage() {
	if !m.enabled {
		return
	}
	m.eventBusOutages.Inc()
}

// RecordRecovery records leaving degraded mode.
func (m *Manager) RecordRecovery() {
	if !m.enabled {
		return
	}
	m.eventBusRecoveries.Inc()
}

// SetWebSocketClients sets the number of connected websocket clients.
func (m *Manager) SetWebSocketClients(n int) {
	if !m.enabled {
		return
	}
	m.wsClients.Set(float64(n))
}
