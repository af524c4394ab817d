package grpccomch

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName       = "ldpcoffload.comch.v1.Channel"
	methodOpenDevice  = "/" + serviceName + "/OpenDevice"
	methodConnect     = "/" + serviceName + "/Connect"
	deviceMetadataKey = "ldpc-device"
)

// ChannelServer is the server API for the Channel gRPC service.
//
// Messages are protobuf well-known wrapper types; every BytesValue on the
// Connect stream is one marshaled channel.Frame.
//
// Proto definition: channel.proto.
type ChannelServer interface {
	OpenDevice(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Connect(Channel_ConnectServer) error
}

// UnimplementedChannelServer can be embedded to have forward compatible implementations.
type UnimplementedChannelServer struct{}

func (UnimplementedChannelServer) OpenDevice(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method OpenDevice not implemented")
}
func (UnimplementedChannelServer) Connect(Channel_ConnectServer) error {
	return status.Error(codes.Unimplemented, "method Connect not implemented")
}

// RegisterChannelServer registers the Channel service on a gRPC server.
func RegisterChannelServer(s grpc.ServiceRegistrar, srv ChannelServer) {
	s.RegisterService(&Channel_ServiceDesc, srv)
}

type Channel_ConnectServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type channelConnectServer struct{ grpc.ServerStream }

func (x *channelConnectServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

func (x *channelConnectServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ChannelClient is the client API for the Channel gRPC service.
type ChannelClient interface {
	OpenDevice(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Connect(ctx context.Context, opts ...grpc.CallOption) (Channel_ConnectClient, error)
}

type Channel_ConnectClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type channelClient struct{ cc grpc.ClientConnInterface }

func NewChannelClient(cc grpc.ClientConnInterface) ChannelClient { return &channelClient{cc: cc} }

func (c *channelClient) OpenDevice(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodOpenDevice, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *channelClient) Connect(ctx context.Context, opts ...grpc.CallOption) (Channel_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &Channel_ServiceDesc.Streams[0], methodConnect, opts...)
	if err != nil {
		return nil, err
	}
	return &channelConnectClient{stream}, nil
}

type channelConnectClient struct{ grpc.ClientStream }

func (x *channelConnectClient) Send(m *wrapperspb.BytesValue) error { return x.ClientStream.SendMsg(m) }

func (x *channelConnectClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Channel_OpenDevice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChannelServer).OpenDevice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodOpenDevice}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChannelServer).OpenDevice(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Channel_Connect_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ChannelServer).Connect(&channelConnectServer{stream})
}

// Channel_ServiceDesc is the grpc.ServiceDesc for the Channel service.
var Channel_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChannelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenDevice", Handler: _Channel_OpenDevice_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       _Channel_Connect_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "channel.proto",
}
