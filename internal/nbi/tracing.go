package nbi

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/internal/observability"
)

const tracerName = "github.com/signalsfoundry/energy-network-editor/internal/nbi"

// Span attribute keys for editor commands.
const (
	attrCommand = attribute.Key("editor.command")
	attrModelID = attribute.Key("editor.model_id")
	attrVersion = attribute.Key("editor.version")
)

// TracingUnaryServerInterceptor names and annotates the RPC span. When the
// otelgrpc stats handler is not installed it opens the server span itself.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var resp interface{}
		err := withRPCSpan(ctx, info.FullMethod, func(ctx context.Context) error {
			var err error
			resp, err = handler(ctx, req)
			return err
		})
		return resp, err
	}
}

// TracingStreamServerInterceptor is the streaming counterpart, used by
// Subscribe.
func TracingStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return withRPCSpan(ss.Context(), info.FullMethod, func(ctx context.Context) error {
			return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		})
	}
}

func withRPCSpan(ctx context.Context, fullMethod string, fn func(context.Context) error) error {
	service, method := observability.SplitMethod(fullMethod)
	name := "Editor/" + service + "/" + method

	span := trace.SpanFromContext(ctx)
	owned := !span.SpanContext().IsValid()
	if owned {
		ctx, span = otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
	} else {
		span.SetName(name)
	}
	span.SetAttributes(
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
		attribute.String("rpc.full_method", strings.TrimPrefix(fullMethod, "/")),
	)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		span.SetAttributes(attribute.String("request_id", id))
	}

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// startCommandSpan opens the span covering one dispatched command.
func startCommandSpan(ctx context.Context, cmd, modelID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "Editor/Command/"+cmd, trace.WithAttributes(
		attrCommand.String(cmd),
		attrModelID.String(modelID),
	))
}
