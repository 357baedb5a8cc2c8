package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "sagaflow.http"

// TraceIDHeader carries the server span's trace id back to the client.
const TraceIDHeader = "X-Trace-ID"

// TracingOptions configures Tracing.
type TracingOptions struct {
	// Skip reports requests that get no span.
	Skip func(r *http.Request) bool
}

// DefaultTracingOptions skips the health endpoints and websocket upgrades,
// whose spans would live as long as the connection.
func DefaultTracingOptions() TracingOptions {
	return TracingOptions{
		Skip: func(r *http.Request) bool {
			switch r.URL.Path {
			case "/health", "/ready", "/status":
				return true
			}
			return isWebSocketUpgrade(r)
		},
	}
}

// Tracing starts a server span per request, continuing any W3C trace context
// the caller sent. The span is named after the chi route once routing is done
// and carries the saga process and instance from the URL.
func Tracing(opts TracingOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := otel.Tracer(httpTracerName).Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			if id := GetRequestID(ctx); id != "" {
				span.SetAttributes(attribute.String("http.request.id", id))
			}
			if sc := span.SpanContext(); sc.HasTraceID() {
				w.Header().Set(TraceIDHeader, sc.TraceID().String())
			}

			wrapped := newResponseWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			if rc := chi.RouteContext(ctx); rc != nil {
				if process := rc.URLParam("process"); process != "" {
					span.SetAttributes(attribute.String("saga.process", process))
				}
				if id := rc.URLParam("id"); id != "" {
					span.SetAttributes(attribute.String("saga.instance_id", id))
				}
			}
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", wrapped.statusCode),
			)
			// Client errors are the caller's; only 5xx fail a server span.
			if wrapped.statusCode >= http.StatusInternalServerError {
				span.SetStatus(otelcodes.Error, http.StatusText(wrapped.statusCode))
			}
		})
	}
}

// routePattern is the chi pattern that matched r, or the raw path before
// routing or on a miss.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := strings.TrimSpace(rc.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
