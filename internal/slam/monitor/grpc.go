package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusServiceName is the gRPC service answering session status queries.
const StatusServiceName = "slamframe.v1.SessionStatus"

const getMethod = "/" + StatusServiceName + "/Get"

// MaxMsgSize bounds gRPC messages in both directions.
const MaxMsgSize = 4 * 1024 * 1024

type statusService interface {
	Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// The status service speaks google.protobuf.Struct so no generated stubs are
// needed. Requests carry an optional "scene" string.
var statusServiceDesc = grpc.ServiceDesc{
	ServiceName: StatusServiceName,
	HandlerType: (*statusService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slamframe/v1/status.proto",
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(statusService).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(statusService).Get(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// NewGRPCServer returns a gRPC server with the health and status services of
// s registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.MaxSendMsgSize(MaxMsgSize),
	}, opts...)
	g := grpc.NewServer(opts...)
	s.RegisterGRPC(g)
	return g
}

// RegisterGRPC registers the health and status services on r.
func (s *Server) RegisterGRPC(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.health)
	r.RegisterService(&statusServiceDesc, s)
}

// Get returns one session's status when the request names a scene, or
// {"sessions": [...]} for all of them.
func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var scene string
	if v, ok := req.GetFields()["scene"]; ok {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "scene must be a string")
		}
		scene = sv.StringValue
	}

	var payload any
	if scene == "" {
		payload = map[string]any{"sessions": s.Statuses()}
	} else {
		sess, err := s.manager.Session(scene)
		if err != nil {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		payload = statusOf(sess)
	}

	out, err := toStruct(payload)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStruct converts v to a Struct through its JSON encoding, so the gRPC
// view matches the HTTP one field for field.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return structpb.NewStruct(m)
}

// GetStatus calls the status service over conn. An empty scene asks for
// every session.
func GetStatus(ctx context.Context, conn grpc.ClientConnInterface, scene string) (*structpb.Struct, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if scene != "" {
		req.Fields["scene"] = structpb.NewStringValue(scene)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, getMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
