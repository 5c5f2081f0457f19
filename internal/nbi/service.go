package nbi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/energy-network-editor/internal/emitter"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
)

// EditorServiceName is the fully qualified gRPC service name.
const EditorServiceName = "mapeditor.v1.EditorService"

const (
	executeMethod   = "/" + EditorServiceName + "/Execute"
	subscribeMethod = "/" + EditorServiceName + "/Subscribe"
)

// EditorServiceServer is the server API of the editor service. Commands
// and events travel as google.protobuf.Struct so the same JSON shapes
// serve the browser socket and gRPC clients.
type EditorServiceServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, EditorService_SubscribeServer) error
}

// EditorService_SubscribeServer is the server side of the event stream.
type EditorService_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type editorServiceSubscribeServer struct {
	grpc.ServerStream
}

func (x *editorServiceSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _EditorService_Execute_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EditorServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EditorServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _EditorService_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EditorServiceServer).Subscribe(m, &editorServiceSubscribeServer{stream})
}

// EditorService_ServiceDesc describes the editor service for grpc.Server.
var EditorService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: EditorServiceName,
	HandlerType: (*EditorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: _EditorService_Execute_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _EditorService_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "mapeditor/v1/editor.proto",
}

// RegisterEditorServiceServer registers srv on s.
func RegisterEditorServiceServer(s grpc.ServiceRegistrar, srv EditorServiceServer) {
	s.RegisterService(&EditorService_ServiceDesc, srv)
}

// EditorService implements EditorServiceServer on a Dispatcher and a
// Broker.
type EditorService struct {
	dispatcher *Dispatcher
	broker     *emitter.Broker
	log        logging.Logger
}

// NewEditorService creates the gRPC facade.
func NewEditorService(dispatcher *Dispatcher, broker *emitter.Broker, log logging.Logger) *EditorService {
	return &EditorService{dispatcher: dispatcher, broker: broker, log: logging.OrNoop(log)}
}

// Execute runs one command.
func (s *EditorService) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty command")
	}
	result, err := s.dispatcher.Execute(ctx, req.AsMap())
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := toStruct(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Subscribe streams the events of the model named by "modelId" until
// the client goes away. An empty modelId streams every model.
func (s *EditorService) Subscribe(req *structpb.Struct, stream EditorService_SubscribeServer) error {
	ctx := stream.Context()
	modelID := ""
	if req != nil {
		if v, ok := req.AsMap()["modelId"].(string); ok {
			modelID = v
		}
	}

	sub := s.broker.Subscribe(modelID)
	defer s.broker.Unsubscribe(sub)
	log := logging.LoggerFromContext(ctx, s.log)
	log.Info(ctx, "event stream opened",
		logging.ModelID(modelID),
		logging.String("subscription_id", sub.ID),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "event stream closed",
				logging.String("subscription_id", sub.ID),
				logging.Uint64("dropped", sub.Dropped()),
			)
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return status.Error(codes.Unavailable, "event broker closed")
			}
			msg, err := toStruct(ev)
			if err != nil {
				log.Error(ctx, "encode event failed", logging.Err(err), logging.String("event", ev.Name))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// EditorClient calls the editor service.
type EditorClient struct {
	cc grpc.ClientConnInterface
}

// NewEditorClient wraps a client connection.
func NewEditorClient(cc grpc.ClientConnInterface) *EditorClient {
	return &EditorClient{cc: cc}
}

// Execute sends one {cmd, ...params} command.
func (c *EditorClient) Execute(ctx context.Context, cmd map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := toStruct(cmd)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, executeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// EventStream receives events from Subscribe.
type EventStream interface {
	Recv() (map[string]any, error)
	grpc.ClientStream
}

type eventStream struct {
	grpc.ClientStream
}

func (x *eventStream) Recv() (map[string]any, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m.AsMap(), nil
}

// Subscribe opens the event stream of modelID.
func (c *EditorClient) Subscribe(ctx context.Context, modelID string, opts ...grpc.CallOption) (EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &EditorService_ServiceDesc.Streams[0], subscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"modelId": modelID})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &eventStream{stream}, nil
}

// toStruct converts any JSON-encodable value into a Struct by a JSON
// round trip, which flattens typed slices and structs into the generic
// shapes structpb accepts.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return structpb.NewStruct(generic)
}
