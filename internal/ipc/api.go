package ipc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name of the tunnel daemon.
const ServiceName = "glassvpn.TunnelControl"

const (
	methodGetStatus   = "/" + ServiceName + "/GetStatus"
	methodStartTunnel = "/" + ServiceName + "/StartTunnel"
	methodStopTunnel  = "/" + ServiceName + "/StopTunnel"
	methodSendMessage = "/" + ServiceName + "/SendMessage"
	methodWatchStatus = "/" + ServiceName + "/WatchStatus"
)

// StatusStream is the server side of WatchStatus.
type StatusStream = grpc.ServerStreamingServer[wrapperspb.Int32Value]

// TunnelControlServer is implemented by the tunnel daemon.
// Status values are core.RawStatus numbers.
type TunnelControlServer interface {
	// GetStatus returns the current raw session status.
	GetStatus(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
	// StartTunnel begins bringing the session up. It returns once the
	// session is Connecting; Connected is reported through WatchStatus.
	StartTunnel(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// StopTunnel begins tearing the session down.
	StopTunnel(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// SendMessage delivers one encoded control message line.
	SendMessage(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// WatchStatus streams the current status followed by every change.
	WatchStatus(*emptypb.Empty, StatusStream) error
}

// TunnelControlServiceDesc describes the service for grpc.Server registration.
var TunnelControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TunnelControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler: unaryHandler(methodGetStatus, func(s TunnelControlServer, ctx context.Context, in *emptypb.Empty) (*wrapperspb.Int32Value, error) {
				return s.GetStatus(ctx, in)
			}),
		},
		{
			MethodName: "StartTunnel",
			Handler: unaryHandler(methodStartTunnel, func(s TunnelControlServer, ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
				return s.StartTunnel(ctx, in)
			}),
		},
		{
			MethodName: "StopTunnel",
			Handler: unaryHandler(methodStopTunnel, func(s TunnelControlServer, ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
				return s.StopTunnel(ctx, in)
			}),
		},
		{
			MethodName: "SendMessage",
			Handler: unaryHandler(methodSendMessage, func(s TunnelControlServer, ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
				return s.SendMessage(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchStatus",
			Handler:       watchStatusHandler,
			ServerStreams: true,
		},
	},
	Metadata: "glassvpn/tunnel_control",
}

// RegisterTunnelControlServer registers srv on s.
func RegisterTunnelControlServer(s grpc.ServiceRegistrar, srv TunnelControlServer) {
	s.RegisterService(&TunnelControlServiceDesc, srv)
}

func unaryHandler[Req, Res any](
	fullMethod string,
	call func(TunnelControlServer, context.Context, *Req) (*Res, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TunnelControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TunnelControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchStatusHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TunnelControlServer).WatchStatus(in, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.Int32Value]{ServerStream: stream})
}

// TunnelControlClient is the client stub of the tunnel daemon service.
type TunnelControlClient struct {
	cc grpc.ClientConnInterface
}

// NewTunnelControlClient wraps a connection.
func NewTunnelControlClient(cc grpc.ClientConnInterface) *TunnelControlClient {
	return &TunnelControlClient{cc: cc}
}

func (c *TunnelControlClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, methodGetStatus, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TunnelControlClient) StartTunnel(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodStartTunnel, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TunnelControlClient) StopTunnel(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodStopTunnel, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TunnelControlClient) SendMessage(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodSendMessage, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TunnelControlClient) WatchStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.Int32Value], error) {
	stream, err := c.cc.NewStream(ctx, &TunnelControlServiceDesc.Streams[0], methodWatchStatus, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.Int32Value]{ClientStream: stream}
	if err := x.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
