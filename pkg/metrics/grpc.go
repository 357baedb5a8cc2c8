package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initGRPCMetrics(cfg Config) {
	m.grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests",
		},
		[]string{"method", "code"},
	)

	m.grpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   cfg.HTTPDurationBuckets,
		},
		[]string{"method"},
	)

	m.registry.MustRegister(m.grpcRequests)
	m.registry.MustRegister(m.grpcDuration)
}

// RecordGRPCRequest records one finished RPC with its status code name.
func (m *Manager) RecordGRPCRequest(method, code string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.grpcRequests.WithLabelValues(method, code).Inc()
	m.grpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}
