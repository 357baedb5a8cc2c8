// Package interceptors provides gRPC server interceptors for logging,
// recovery, request ids, tracing, metrics and per-peer rate limiting.
package interceptors

import (
	"google.golang.org/grpc"

	"github.com/goclaw/sagaflow/pkg/logger"
)

// ChainBuilder helps build interceptor chains in the correct order
type ChainBuilder struct {
	unaryInterceptors  []grpc.UnaryServerInterceptor
	streamInterceptors []grpc.StreamServerInterceptor
}

// NewChainBuilder creates a new interceptor chain builder
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// WithRecovery adds recovery interceptor (should be first)
func (b *ChainBuilder) WithRecovery(log logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RecoveryUnaryInterceptor(log))
	b.streamInterceptors = append(b.streamInterceptors, RecoveryStreamInterceptor(log))
	return b
}

// WithRequestID adds request ID interceptor
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RequestIDUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, RequestIDStreamInterceptor())
	return b
}

// WithRateLimit adds per-peer rate limiting. Health checks are exempt.
func (b *ChainBuilder) WithRateLimit(requestsPerSecond float64, burst int) *ChainBuilder {
	rl := NewRateLimiter(requestsPerSecond, burst)
	b.unaryInterceptors = append(b.unaryInterceptors, RateLimitUnaryInterceptor(rl))
	b.streamInterceptors = append(b.streamInterceptors, RateLimitStreamInterceptor(rl))
	return b
}

// WithLogging adds logging interceptor
func (b *ChainBuilder) WithLogging(log logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, LoggingUnaryInterceptor(log))
	b.streamInterceptors = append(b.streamInterceptors, LoggingStreamInterceptor(log))
	return b
}

// WithMetrics adds metrics interceptor. A nil recorder is skipped.
func (b *ChainBuilder) WithMetrics(m MetricsRecorder) *ChainBuilder {
	if m == nil {
		return b
	}
	b.unaryInterceptors = append(b.unaryInterceptors, MetricsUnaryInterceptor(m))
	b.streamInterceptors = append(b.streamInterceptors, MetricsStreamInterceptor(m))
	return b
}

// WithTracing adds tracing interceptor
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, TracingUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, TracingStreamInterceptor())
	return b
}

// Build returns the configured interceptors as server options
func (b *ChainBuilder) Build() []grpc.ServerOption {
	opts := make([]grpc.ServerOption, 0, 2)

	if len(b.unaryInterceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(b.unaryInterceptors...))
	}

	if len(b.streamInterceptors) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(b.streamInterceptors...))
	}

	return opts
}

// DefaultChain returns the server chain in order:
// recovery -> request_id -> rate_limit -> logging -> metrics -> tracing.
// rate_limit is included only when requestsPerSecond > 0.
func DefaultChain(log logger.Logger, m MetricsRecorder, requestsPerSecond float64) *ChainBuilder {
	b := NewChainBuilder().
		WithRecovery(log).
		WithRequestID()
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		b.WithRateLimit(requestsPerSecond, burst)
	}
	return b.WithLogging(log).
		WithMetrics(m).
		WithTracing()
}
