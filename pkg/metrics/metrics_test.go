package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/sagaflow/pkg/command"
	"github.com/goclaw/sagaflow/pkg/eventbus"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/saga"
)

var (
	_ command.MetricsRecorder    = (*Manager)(nil)
	_ saga.MetricsRecorder       = (*Manager)(nil)
	_ eventstore.MetricsRecorder = (*Manager)(nil)
	_ eventbus.Telemetry         = (*Manager)(nil)
)

func TestNewManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
	if m.Registry() == nil {
		t.Error("Expected a registry when enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
}

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordCommandAttempt("commitError")
	m.RecordCommandAttempt("success")
	m.RecordCommandRetry("commitError")
	m.RecordCommandResult("success", 20*time.Millisecond)
	m.RecordSagaTransition("orderflow", "payment_captured")
	m.RecordSagaEnqueued("orderflow", "awaiting_payment")
	m.RecordSagaConflict("orderflow", "awaiting_payment")
	m.RecordSagaDuplicate("orderflow")
	m.RecordEventStoreAppend("memory", "success", 2)
	m.RecordEventStoreAppend("memory", "conflict", 1)
	m.RecordHTTPRequest("POST", "/api/v1/processes/{process}/instances/{id}/events", "200", 5*time.Millisecond)

	body := scrape(t, m)
	expectedMetrics := []string{
		`sagaflow_command_attempts_total{category="commitError"} 1`,
		`sagaflow_command_retries_total{category="commitError"} 1`,
		`sagaflow_command_results_total{status="success"} 1`,
		"sagaflow_command_duration_seconds",
		`sagaflow_saga_transitions_total{process="orderflow",transition="payment_captured"} 1`,
		"sagaflow_saga_enqueued_total",
		"sagaflow_saga_conflicts_total",
		`sagaflow_saga_duplicates_total{process="orderflow"} 1`,
		`sagaflow_eventstore_appends_total{backend="memory",status="conflict"} 1`,
		`sagaflow_eventstore_events_total{backend="memory"} 2`,
		"sagaflow_http_requests_total",
		"sagaflow_http_request_duration_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %s not found in output", metric)
		}
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when disabled, got %d", w.Code)
	}
}

func TestStartServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Port = 19191

	m := NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		err := m.StartServer(ctx, cfg.Port, cfg.Path)
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:19191/metrics")
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errCh:
		t.Errorf("Server error: %v", err)
	case <-time.After(1 * time.Second):
	}
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()

	if m.Enabled() {
		t.Error("NoOpManager should not be enabled")
	}

	// These should not panic
	m.RecordCommandAttempt("success")
	m.RecordCommandRetry("commitError")
	m.RecordCommandResult("failed", time.Second)
	m.RecordSagaTransition("p", "t")
	m.RecordSagaEnqueued("p", "s")
	m.RecordSagaConflict("p", "s")
	m.RecordSagaDuplicate("p")
	m.RecordEventStoreAppend("redis", "error", 1)
	m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	m.IncActiveConnections()
	m.DecActiveConnections()
}

func BenchmarkRecordCommandAttempt(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordCommandAttempt("success")
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	m := NewManager(DefaultConfig())
	d := 5 * time.Millisecond
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordHTTPRequest("GET", "/api/v1/processes", "200", d)
	}
}

func BenchmarkNoOpRecording(b *testing.B) {
	m := NoOpManager()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordCommandAttempt("success")
		m.RecordSagaTransition("p", "t")
		m.RecordEventStoreAppend("memory", "success", 1)
	}
}

func TestMetricsMemoryUsage(t *testing.T) {
	m := NewManager(DefaultConfig())

	categories := []string{"success", "aggregateLoadingError", "executionError", "commitError"}
	methods := []string{"GET", "POST"}
	paths := []string{"/api/v1/processes", "/health", "/ready"}

	for i := 0; i < 100000; i++ {
		m.RecordCommandAttempt(categories[i%len(categories)])
		m.RecordCommandResult("success", time.Duration(i)*time.Microsecond)
		m.RecordHTTPRequest(methods[i%len(methods)], paths[i%len(paths)], "200", time.Duration(i)*time.Microsecond)
	}

	body := scrape(t, m)
	if len(body) > 10*1024*1024 {
		t.Errorf("Metrics output too large: %d bytes", len(body))
	}
}

func TestEventBusMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordPublish("success")
	m.RecordRetry()
	m.RecordOutage()
	m.SetDegradedMode(true)
	m.SetWebSocketClients(3)

	body := scrape(t, m)
	for _, want := range []string{
		`sagaflow_eventbus_published_total{status="success"} 1`,
		`sagaflow_eventbus_retries_total 1`,
		`sagaflow_eventbus_outages_total 1`,
		`sagaflow_eventbus_degraded 1`,
		`sagaflow_websocket_clients 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}

	m.SetDegradedMode(false)
	m.RecordRecovery()
	body = scrape(t, m)
	if !strings.Contains(body, "sagaflow_eventbus_degraded 0") {
		t.Error("expected degraded gauge reset")
	}

	NoOpManager().RecordPublish("success")
	NoOpManager().SetWebSocketClients(1)
}

func TestGRPCMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordGRPCRequest("/grpc.health.v1.Health/Check", "OK", 3*time.Millisecond)
	m.RecordGRPCRequest("/grpc.health.v1.Health/Check", "Unavailable", time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`sagaflow_grpc_requests_total{code="OK",method="/grpc.health.v1.Health/Check"} 1`,
		`sagaflow_grpc_requests_total{code="Unavailable",method="/grpc.health.v1.Health/Check"} 1`,
		`sagaflow_grpc_request_duration_seconds_count{method="/grpc.health.v1.Health/Check"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}

	NoOpManager().RecordGRPCRequest("m", "OK", time.Millisecond)
}
