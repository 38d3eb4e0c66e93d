package relayer

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName mirrors the fully-qualified name a .proto definition would
// give this service, for parity with how a generated _grpc.pb.go would
// register it.
const serviceName = "dispatch.relayer.RelayerService"

// RelayerServer is implemented by Server; kept as an interface so
// ServiceDesc's HandlerType matches generated-code conventions.
type RelayerServer interface {
	RegisterCluster(ctx context.Context, req RegisterClusterRequest) (RegisterClusterResponse, error)
	Stream(stream grpc.ServerStream) error
}

func registerClusterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req RegisterClusterRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayerServer).RegisterCluster(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RegisterCluster"}
	handler := func(ctx context.Context, r any) (any, error) {
		return srv.(RelayerServer).RegisterCluster(ctx, r.(RegisterClusterRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayerServer).Stream(stream)
}

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for the two RPCs spec §6 describes: a unary RegisterCluster
// and a bidirectional Stream.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RelayerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterCluster",
			Handler:    registerClusterHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "dispatch/relayer.proto",
}
