package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/transport/frame"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// StreamEndpoint is the worker's end of an Exchange stream.
type StreamEndpoint struct {
	stream grpc.ServerStream
}

// NewStreamEndpoint adapts a server stream to domain.Endpoint.
func NewStreamEndpoint(stream grpc.ServerStream) *StreamEndpoint {
	return &StreamEndpoint{stream: stream}
}

// Recv blocks until the next frame arrives. The stream's own context bounds it;
// ctx is only checked before the call.
func (e *StreamEndpoint) Recv(ctx context.Context) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var f anypb.Any
	if err := e.stream.RecvMsg(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrLinkClosed
		}
		return nil, err
	}
	return frame.Decode(&f)
}

func (e *StreamEndpoint) Send(ctx context.Context, contribution float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.stream.SendMsg(wrapperspb.Double(contribution))
}

// ToStatus maps a worker loop error to a grpc status error.
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrMalformedMessage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrLinkClosed):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps a grpc error seen by the leader to a domain error kind.
func fromStatus(rank int, addr string, err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("rank %d at %s: %w: %w", rank, addr, domain.ErrPeerUnreachable, domain.ErrLinkClosed)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return fmt.Errorf("rank %d at %s: %w: %v", rank, addr, domain.ErrPeerUnreachable, err)
	case codes.InvalidArgument:
		return fmt.Errorf("rank %d at %s: %w: %v", rank, addr, domain.ErrMalformedMessage, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("rank %d at %s: %w: %v", rank, addr, domain.ErrRoundTripTimeout, err)
	default:
		return fmt.Errorf("rank %d at %s: %w", rank, addr, err)
	}
}
