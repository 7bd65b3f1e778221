package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/transport/frame"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Peer is the leader's end of an Exchange stream to one worker.
type Peer struct {
	rank      int
	addr      string
	conn      *grpc.ClientConn
	ownsConn  bool
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects to the worker at addr and opens its work stream.
func Dial(ctx context.Context, rank int, addr string, opts ...grpc.DialOption) (*Peer, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker %d at %s: %w: %v", rank, addr, domain.ErrPeerUnreachable, err)
	}
	p, err := NewPeer(ctx, rank, addr, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.ownsConn = true
	return p, nil
}

// NewPeer opens a work stream on an existing connection. The stream lives
// until Close or until ctx is cancelled.
func NewPeer(ctx context.Context, rank int, addr string, conn *grpc.ClientConn) (*Peer, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], ExchangeMethod)
	if err != nil {
		cancel()
		return nil, fromStatus(rank, addr, err)
	}
	return &Peer{
		rank:   rank,
		addr:   addr,
		conn:   conn,
		stream: stream,
		cancel: cancel,
	}, nil
}

func (p *Peer) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := frame.Encode(msg)
	if err != nil {
		return err
	}
	if err := p.stream.SendMsg(f); err != nil {
		if errors.Is(err, io.EOF) {
			err = p.statusOf(err)
		}
		return fromStatus(p.rank, p.addr, err)
	}
	if _, ok := msg.(domain.Shutdown); ok {
		// Nothing follows a shutdown on this stream. Wait for the worker to
		// end it so the shutdown is known to be delivered.
		if err := p.stream.CloseSend(); err != nil {
			return fromStatus(p.rank, p.addr, err)
		}
		_, err := p.recv(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fromStatus(p.rank, p.addr, err)
		default:
			return fmt.Errorf("rank %d at %s: %w: reply after shutdown", p.rank, p.addr, domain.ErrMalformedMessage)
		}
	}
	return nil
}

// Recv waits for the worker's reply. If ctx ends first the stream is torn
// down, since a late reply could otherwise be read as the answer to the
// next work item.
func (p *Peer) Recv(ctx context.Context) (float64, error) {
	v, err := p.recv(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return 0, fromStatus(p.rank, p.addr, err)
	}
	return v, nil
}

func (p *Peer) recv(ctx context.Context) (float64, error) {
	type result struct {
		v   float64
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var reply wrapperspb.DoubleValue
		err := p.stream.RecvMsg(&reply)
		ch <- result{reply.GetValue(), err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		p.cancel()
		<-ch
		return 0, ctx.Err()
	}
}

// statusOf returns the stream's final status after SendMsg reported io.EOF,
// which is how grpc signals that the server already ended the stream.
func (p *Peer) statusOf(err error) error {
	var discard wrapperspb.DoubleValue
	if rerr := p.stream.RecvMsg(&discard); rerr != nil {
		return rerr
	}
	return err
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		if p.ownsConn {
			err = p.conn.Close()
		}
	})
	return err
}
