package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const eventsRoute = "/api/v1/processes/{process}/instances/{id}/events"

func scrapeOpenMetrics(t *testing.T, m *Manager) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text; version=1.0.0")
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func sampledContext() (context.Context, trace.SpanContext) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{9, 8, 7, 6, 5, 4, 3, 2},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), spanCtx), spanCtx
}

func TestRecordHTTPRequestContext_TraceExemplar(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx, spanCtx := sampledContext()

	m.RecordHTTPRequestContext(ctx, http.MethodPost, eventsRoute, "200", 12*time.Millisecond)

	body := scrapeOpenMetrics(t, m)
	if !strings.Contains(body, `sagaflow_http_requests_total{method="POST",path="`+eventsRoute+`",status="200"}`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
	if !strings.Contains(body, `trace_id="`+spanCtx.TraceID().String()+`"`) {
		t.Fatalf("expected trace exemplar on sagaflow_http_request_duration_seconds:\n%s", body)
	}
	if !strings.Contains(body, `span_id="`+spanCtx.SpanID().String()+`"`) {
		t.Fatalf("expected span id in exemplar:\n%s", body)
	}
}

func TestRecordHTTPRequest_NoExemplarWithoutSpan(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordHTTPRequest(http.MethodGet, "/api/v1/processes", "200", time.Millisecond)

	body := scrapeOpenMetrics(t, m)
	if !strings.Contains(body, `sagaflow_http_request_duration_seconds_count{method="GET",path="/api/v1/processes"}`) {
		t.Fatalf("duration histogram missing:\n%s", body)
	}
	if strings.Contains(body, "trace_id=") {
		t.Fatalf("unexpected exemplar without a span:\n%s", body)
	}
}

func TestTraceExemplarLabels(t *testing.T) {
	ctx, spanCtx := sampledContext()
	labels, ok := traceExemplarLabels(ctx)
	if !ok || labels["trace_id"] != spanCtx.TraceID().String() || labels["span_id"] != spanCtx.SpanID().String() {
		t.Fatalf("traceExemplarLabels() = %v, %v", labels, ok)
	}
	if labels, ok := traceExemplarLabels(context.Background()); ok {
		t.Fatalf("expected no labels without a span, got %v", labels)
	}
}

func TestActiveConnections(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.IncActiveConnections()
	m.IncActiveConnections()
	m.DecActiveConnections()

	if body := scrape(t, m); !strings.Contains(body, "sagaflow_http_active_connections 1") {
		t.Fatalf("expected one active connection:\n%s", body)
	}
}

func TestHTTPMetrics_DisabledManagerIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := NewManager(cfg)
	ctx, _ := sampledContext()

	m.RecordHTTPRequestContext(ctx, http.MethodGet, "/health", "200", time.Millisecond)
	m.IncActiveConnections()
	m.DecActiveConnections()
}
