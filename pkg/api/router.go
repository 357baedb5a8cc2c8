// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goclaw/sagaflow/config"
	"github.com/goclaw/sagaflow/pkg/api/handlers"
	"github.com/goclaw/sagaflow/pkg/api/middleware"
	"github.com/goclaw/sagaflow/pkg/api/response"
	"github.com/goclaw/sagaflow/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Processes serves process definitions and instances.
	Processes *handlers.ProcessHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams committed events. Optional.
	WebSocket http.Handler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.BodyLimit(cfg.Server.HTTP.MaxBodyBytes))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed, "method not allowed", middleware.GetRequestID(r.Context()))
	})

	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	if h.Processes != nil {
		r.Route("/api/v1/processes", func(r chi.Router) {
			r.Get("/", h.Processes.ListProcesses)
			r.Route("/{process}", func(r chi.Router) {
				r.Get("/", h.Processes.GetProcess)
				r.Get("/instances/{id}", h.Processes.GetInstance)
				r.Post("/instances/{id}/events", h.Processes.ProcessEvent)
				r.Get("/instances/{id}/events", h.Processes.GetEvents)
			})
		})
	}

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}

	if h.WebSocket != nil {
		r.Get("/ws/events", h.WebSocket.ServeHTTP)
	}
}
