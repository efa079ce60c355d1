// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC name of the lifecycle service.
const ServiceName = "pluginhost.lifecycle.v1.Lifecycle"

const (
	methodInit     = "/" + ServiceName + "/Init"
	methodShutdown = "/" + ServiceName + "/Shutdown"
)

// LifecycleServer is the plugin-side lifecycle service.
type LifecycleServer interface {
	Init(ctx context.Context, cfg *structpb.Struct) (*emptypb.Empty, error)
	Shutdown(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
}

// LifecycleClient is the host-side stub of the lifecycle service.
type LifecycleClient interface {
	Init(ctx context.Context, cfg *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type lifecycleClient struct {
	cc grpc.ClientConnInterface
}

// NewLifecycleClient creates a client stub over a connection.
func NewLifecycleClient(cc grpc.ClientConnInterface) LifecycleClient {
	return &lifecycleClient{cc: cc}
}

func (c *lifecycleClient) Init(ctx context.Context, cfg *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodInit, cfg, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lifecycleClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodShutdown, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterLifecycleServer registers srv on a gRPC server.
func RegisterLifecycleServer(s grpc.ServiceRegistrar, srv LifecycleServer) {
	s.RegisterService(&LifecycleServiceDesc, srv)
}

// LifecycleServiceDesc describes the lifecycle service for grpc.Server.
var LifecycleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Init", Handler: initHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pluginhost/lifecycle/v1/lifecycle.proto",
}

func initHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LifecycleServer).Init(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInit}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LifecycleServer).Init(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func shutdownHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LifecycleServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodShutdown}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LifecycleServer).Shutdown(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
