// Package rpc carries leader/worker messages over a grpc bidirectional stream.
//
// The service is declared by hand rather than generated: it has a single
// streaming method whose frames are protobuf well-known types.
//
//	service Worker {
//	  rpc Exchange(stream google.protobuf.Any) returns (stream google.protobuf.DoubleValue);
//	}
package rpc

import (
	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified grpc service name.
	ServiceName = "quadrature.v1.Worker"
	// ExchangeMethod is the full method name of the work stream.
	ExchangeMethod = "/" + ServiceName + "/Exchange"
)

// ExchangeServer is implemented by the worker process.
type ExchangeServer interface {
	Exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ExchangeServer).Exchange(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "quadrature/v1/worker.proto",
}

// RegisterWorkerServer registers srv on s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&serviceDesc, srv)
}
