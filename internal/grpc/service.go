package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "arrivalalarm.v1.AlarmService"

// AlarmServiceServer is the server API for the alarm service. Messages are
// generic structs so the service needs no generated code.
type AlarmServiceServer interface {
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetTarget(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetRadius(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Cancel(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*emptypb.Empty, WatchStream) error
}

// WatchStream is the server side of the Watch stream
type WatchStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchStream struct {
	grpc.ServerStream
}

func (x *watchStream) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterAlarmServiceServer registers srv on s
func RegisterAlarmServiceServer(s grpc.ServiceRegistrar, srv AlarmServiceServer) {
	s.RegisterService(&AlarmServiceDesc, srv)
}

// unary builds a method handler for a request message of type Req
func unary[Req any](name string, call func(AlarmServiceServer, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AlarmServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AlarmServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AlarmServiceDesc describes the alarm service for grpc.Server
var AlarmServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary[emptypb.Empty]("GetState", AlarmServiceServer.GetState),
		unary[structpb.Struct]("SetTarget", AlarmServiceServer.SetTarget),
		unary[structpb.Struct]("SetRadius", AlarmServiceServer.SetRadius),
		unary[emptypb.Empty]("Start", AlarmServiceServer.Start),
		unary[emptypb.Empty]("Cancel", AlarmServiceServer.Cancel),
		unary[emptypb.Empty]("Stop", AlarmServiceServer.Stop),
		unary[structpb.Struct]("Search", AlarmServiceServer.Search),
		unary[structpb.Struct]("GetSearch", AlarmServiceServer.GetSearch),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Watch",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(emptypb.Empty)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(AlarmServiceServer).Watch(m, &watchStream{stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "arrivalalarm/v1/alarm.proto",
}

// AlarmServiceClient is the client API for the alarm service
type AlarmServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAlarmServiceClient creates a client on cc
func NewAlarmServiceClient(cc grpc.ClientConnInterface) *AlarmServiceClient {
	return &AlarmServiceClient{cc: cc}
}

func (c *AlarmServiceClient) invoke(ctx context.Context, method string, in interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetState returns the current session state
func (c *AlarmServiceClient) GetState(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetState", &emptypb.Empty{}, opts...)
}

// SetTarget sets the destination
func (c *AlarmServiceClient) SetTarget(ctx context.Context, lat, lng float64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"lat": lat, "lng": lng})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "SetTarget", in, opts...)
}

// SetRadius sets the trigger radius in meters
func (c *AlarmServiceClient) SetRadius(ctx context.Context, meters int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"radius": meters})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "SetRadius", in, opts...)
}

// Start begins tracking
func (c *AlarmServiceClient) Start(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Start", &emptypb.Empty{}, opts...)
}

// Cancel ends tracking before arrival
func (c *AlarmServiceClient) Cancel(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Cancel", &emptypb.Empty{}, opts...)
}

// Stop silences the alarm
func (c *AlarmServiceClient) Stop(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Stop", &emptypb.Empty{}, opts...)
}

// Search queues a destination search
func (c *AlarmServiceClient) Search(ctx context.Context, query string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"query": query})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Search", in, opts...)
}

// GetSearch returns a queued search
func (c *AlarmServiceClient) GetSearch(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "GetSearch", in, opts...)
}

// WatchClient receives state updates
type WatchClient struct {
	grpc.ClientStream
}

// Recv blocks for the next state
func (x *WatchClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Watch streams state updates until ctx is done or the session closes
func (c *AlarmServiceClient) Watch(ctx context.Context, opts ...grpc.CallOption) (*WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &AlarmServiceDesc.Streams[0], "/"+ServiceName+"/Watch", opts...)
	if err != nil {
		return nil, err
	}
	x := &WatchClient{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
