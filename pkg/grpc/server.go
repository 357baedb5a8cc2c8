// Package grpc serves the standard gRPC health and reflection services so
// that orchestrators can health-check sagaflow over gRPC as well as HTTP.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/goclaw/sagaflow/pkg/grpc/interceptors"
	"github.com/goclaw/sagaflow/pkg/logger"
)

// Server represents a gRPC server instance
type Server struct {
	config  *Config
	log     logger.Logger
	metrics interceptors.MetricsRecorder
	health  *HealthServer

	mu       sync.RWMutex
	grpcSrv  *grpc.Server
	listener net.Listener
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records every RPC on m.
func WithMetrics(m interceptors.MetricsRecorder) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new gRPC server with the given configuration
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{config: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.health = NewHealthServer(s.log)
	return s, nil
}

// Start listens and serves in the background. ready drives the health service
// until Stop.
func (s *Server) Start(ready Readiness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	s.grpcSrv = grpc.NewServer(s.buildServerOptions()...)
	grpc_health_v1.RegisterHealthServer(s.grpcSrv, s.health.Server())
	if s.config.EnableReflection {
		reflection.Register(s.grpcSrv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	if ready != nil {
		go s.health.Monitor(ctx, s.config.HealthInterval, ready)
	}

	srv := s.grpcSrv
	done := s.done
	go func() {
		defer close(done)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("gRPC server error", "error", err)
		}
	}()

	s.running = true
	s.log.Info("starting gRPC server", "addr", listener.Addr().String(), "reflection", s.config.EnableReflection)
	return nil
}

// Stop gracefully stops the gRPC server, forcing it closed when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
		<-s.done
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
	<-s.done
	return nil
}

// Address returns the server's listening address
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Health returns the health service.
func (s *Server) Health() *HealthServer {
	return s.health
}

func (s *Server) buildServerOptions() []grpc.ServerOption {
	var opts []grpc.ServerOption

	if s.config.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(s.config.MaxConnections)))
	}

	if ka := s.config.Keepalive; ka != nil {
		opts = append(opts,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle: ka.MaxIdle,
				Time:              ka.Time,
				Timeout:           ka.Timeout,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime: ka.Time / 2,
			}),
		)
	}

	opts = append(opts, interceptors.DefaultChain(s.log, s.metrics, s.config.RateLimit).Build()...)
	return opts
}
