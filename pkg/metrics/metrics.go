// Package metrics provides Prometheus instrumentation for sagaflow.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sagaflow"

// Manager owns a private registry and every sagaflow metric family.
// A disabled Manager accepts all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Command metrics
	commandAttempts *prometheus.CounterVec
	commandRetries  *prometheus.CounterVec
	commandResults  *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Saga metrics
	sagaTransitions *prometheus.CounterVec
	sagaEnqueued    *prometheus.CounterVec
	sagaConflicts   *prometheus.CounterVec
	sagaDuplicates  *prometheus.CounterVec

	// Event store metrics
	eventStoreAppends *prometheus.CounterVec
	eventStoreEvents  *prometheus.CounterVec

	// Event bus metrics
	eventBusPublished  *prometheus.CounterVec
	eventBusRetries    prometheus.Counter
	eventBusDegraded   prometheus.Gauge
	eventBusOutages    prometheus.Counter
	eventBusRecoveries prometheus.Counter
	wsClients          prometheus.Gauge

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge

	// gRPC metrics
	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	CommandDurationBuckets []float64
	HTTPDurationBuckets    []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Port:                   9091,
		Path:                   "/metrics",
		CommandDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		HTTPDurationBuckets:    []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initCommandMetrics(cfg)
	m.initSagaMetrics()
	m.initEventStoreMetrics()
	m.initEventBusMetrics()
	m.initHTTPMetrics(cfg)
	m.initGRPCMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry exposes the underlying registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer serves the metrics endpoint until ctx is cancelled.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
