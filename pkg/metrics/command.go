package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initCommandMetrics(cfg Config) {
	m.commandAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_attempts_total",
			Help:      "Total number of command attempts by outcome",
		},
		[]string{"category"},
	)

	m.commandRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_retries_total",
			Help:      "Total number of scheduled command retries by failure category",
		},
		[]string{"category"},
	)

	m.commandResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "Total number of settled commands by status",
		},
		[]string{"status"},
	)

	m.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command duration from first attempt to settlement in seconds",
			Buckets:   cfg.CommandDurationBuckets,
		},
		[]string{"status"},
	)

	m.registry.MustRegister(m.commandAttempts)
	m.registry.MustRegister(m.commandRetries)
	m.registry.MustRegister(m.commandResults)
	m.registry.MustRegister(m.commandDuration)
}

// RecordCommandAttempt records one attempt with "success" or its failure category.
func (m *Manager) RecordCommandAttempt(outcome string) {
	if !m.enabled {
		return
	}
	m.commandAttempts.WithLabelValues(outcome).Inc()
}

// RecordCommandRetry records a scheduled retry.
func (m *Manager) RecordCommandRetry(category string) {
	if !m.enabled {
		return
	}
	m.commandRetries.WithLabelValues(category).Inc()
}

// RecordCommandResult records a settled command.
func (m *Manager) RecordCommandResult(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.commandResults.WithLabelValues(status).Inc()
	m.commandDuration.WithLabelValues(status).Observe(duration.Seconds())
}
