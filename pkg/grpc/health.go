package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/goclaw/sagaflow/pkg/logger"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "sagaflow"

// Readiness reports whether the service can take traffic.
type Readiness func(ctx context.Context) error

// HealthServer wraps the gRPC health check server
type HealthServer struct {
	server *health.Server
	log    logger.Logger
}

// NewHealthServer creates a health server that starts NOT_SERVING.
func NewHealthServer(log logger.Logger) *HealthServer {
	if log == nil {
		log = logger.Nop()
	}
	h := &HealthServer{server: health.NewServer(), log: log}
	h.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// Monitor runs ready every interval and publishes the result until ctx ends.
// The first check runs immediately.
func (h *HealthServer) Monitor(ctx context.Context, interval time.Duration, ready Readiness) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := grpc_health_v1.HealthCheckResponse_UNKNOWN
	for {
		next := grpc_health_v1.HealthCheckResponse_SERVING
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		err := ready(checkCtx)
		cancel()
		if err != nil {
			next = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		if next != last {
			h.log.Info("gRPC health status changed", "status", next.String(), "error", err)
			h.set(next)
			last = next
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// Server returns the underlying health server for registration.
func (h *HealthServer) Server() *health.Server {
	return h.server
}

func (h *HealthServer) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}
