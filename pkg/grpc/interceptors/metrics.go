package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsRecorder receives one observation per finished RPC.
type MetricsRecorder interface {
	RecordGRPCRequest(method, code string, duration time.Duration)
}

// MetricsUnaryInterceptor records request count and latency for unary RPCs.
func MetricsUnaryInterceptor(m MetricsRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// MetricsStreamInterceptor records request count and lifetime for streams.
func MetricsStreamInterceptor(m MetricsRecorder) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		m.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
		return err
	}
}
