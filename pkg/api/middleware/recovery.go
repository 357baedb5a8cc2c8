package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/goclaw/sagaflow/pkg/api/response"
	"github.com/goclaw/sagaflow/pkg/logger"
)

// Recovery turns a handler panic into a 500 response. The panic value and
// stack are logged, never returned to the caller.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.ErrorContext(r.Context(), "Panic recovered",
					"error", rec,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", GetRequestID(r.Context()),
					"stack", string(debug.Stack()),
				)

				requestID := GetRequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}
				response.Error(w,
					http.StatusInternalServerError,
					response.ErrCodeInternalServer,
					"internal server error",
					requestID,
				)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
