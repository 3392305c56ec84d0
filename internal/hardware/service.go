package hardware

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName       = "lockerd.hardware.v1.Hardware"
	startCycleFullRPC = "/" + serviceName + "/StartCycle"
)

// HardwareServer is the server API of the hardware service. The request
// carries the machine id; the empty response acknowledges the cycle start.
type HardwareServer interface {
	StartCycle(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// RegisterHardwareServer registers srv on a gRPC server.
func RegisterHardwareServer(s grpc.ServiceRegistrar, srv HardwareServer) {
	s.RegisterService(&hardwareServiceDesc, srv)
}

func startCycleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HardwareServer).StartCycle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: startCycleFullRPC,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HardwareServer).StartCycle(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var hardwareServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HardwareServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartCycle", Handler: startCycleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lockerd/hardware/v1/hardware.proto",
}
