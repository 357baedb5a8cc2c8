package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goclaw/sagaflow/pkg/api/response"
)

// Timeout bounds the request context by timeout. Handlers observe the deadline
// through r.Context(); when one returns after the deadline without writing
// anything, a 504 is written on its behalf. Websocket upgrades are exempt.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			if wrapped.wroteHeader || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			requestID := GetRequestID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}
			response.Error(w,
				http.StatusGatewayTimeout,
				response.ErrCodeGatewayTimeout,
				"request timeout",
				requestID,
			)
		})
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
