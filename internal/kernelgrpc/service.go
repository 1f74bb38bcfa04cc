package kernelgrpc

import (
	"google.golang.org/grpc"
)

const (
	serviceName   = "eclkernel.v1.Kernel"
	connectMethod = "/" + serviceName + "/Connect"
)

// kernelService is the server side of the Connect stream.
type kernelService interface {
	Connect(stream grpc.ServerStream) error
}

// serviceDesc describes a single bidirectional stream of google.protobuf.Struct
// frames, each holding one JSON message envelope.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*kernelService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "eclkernel/v1/kernel.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(kernelService).Connect(stream)
}
