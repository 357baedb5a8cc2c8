package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/goclaw/sagaflow/pkg/logger"
)

// LoggingUnaryInterceptor logs every unary RPC with its status and duration.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, log, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor logs stream lifecycle for streaming RPCs
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(ss.Context(), log, info.FullMethod, "stream", start, err)
		return err
	}
}

func logRPC(ctx context.Context, log logger.Logger, method, kind string, start time.Time, err error) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = "unknown"
	}
	args := []any{
		"request_id", requestID,
		"method", method,
		"kind", kind,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	}
	if err != nil {
		log.WarnContext(ctx, "gRPC request failed", append(args, "error", err)...)
		return
	}
	log.DebugContext(ctx, "gRPC request", args...)
}
