package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsRecorder records HTTP request metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// contextMetricsRecorder is implemented by recorders that attach trace exemplars.
type contextMetricsRecorder interface {
	RecordHTTPRequestContext(ctx context.Context, method, path, status string, duration time.Duration)
}

// Metrics records one observation per request, labelled by chi route pattern
// so instance ids never become label values. The metrics endpoint itself is skipped.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	ctxRecorder, withContext := recorder.(contextMetricsRecorder)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := newResponseWriter(w)
			record := func() {
				path := routePattern(r)
				if path == r.URL.Path {
					path = normalizePath(path)
				}
				status := strconv.Itoa(wrapped.statusCode)
				if withContext {
					ctxRecorder.RecordHTTPRequestContext(r.Context(), r.Method, path, status, time.Since(start))
					return
				}
				recorder.RecordHTTPRequest(r.Method, path, status, time.Since(start))
			}

			defer func() {
				if rec := recover(); rec != nil {
					wrapped.statusCode = http.StatusInternalServerError
					record()
					panic(rec)
				}
			}()

			next.ServeHTTP(wrapped, r)
			record()
		})
	}
}

// normalizePath collapses id-like segments for requests that did not match a
// route, such as 404s.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = ":id"
			continue
		}
		if _, err := strconv.ParseUint(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
