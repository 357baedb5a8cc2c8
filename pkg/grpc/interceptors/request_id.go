package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDKey is the metadata key for request ID
const RequestIDKey = "x-request-id"

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestIDFromContext returns the request id set by the request id interceptor.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDContextKey).(string)
	return requestID, ok
}

// RequestIDUnaryInterceptor generates or propagates request ID
func RequestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := extractOrGenerateRequestID(ctx)
		ctx = context.WithValue(ctx, requestIDContextKey, requestID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, requestID))

		return handler(ctx, req)
	}
}

// RequestIDStreamInterceptor generates or propagates request ID for streams
func RequestIDStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		requestID := extractOrGenerateRequestID(ctx)
		ctx = context.WithValue(ctx, requestIDContextKey, requestID)
		_ = ss.SetHeader(metadata.Pairs(RequestIDKey, requestID))

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// extractOrGenerateRequestID extracts request ID from metadata or generates new one
func extractOrGenerateRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}

// wrappedStream wraps grpc.ServerStream with custom context
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
