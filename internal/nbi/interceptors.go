package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
)

const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-request logger annotated with request_id and method.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = requestContext(ctx, base, info.FullMethod)
		return handler(ctx, req)
	}
}

// RequestIDStreamServerInterceptor is the streaming counterpart of
// RequestIDUnaryServerInterceptor.
func RequestIDStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	base = logging.OrNoop(base)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := requestContext(ss.Context(), base, info.FullMethod)
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func requestContext(ctx context.Context, base logging.Logger, method string) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
	}
	ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", method)))
	return logging.ContextWithLogger(ctx, reqLog)
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
