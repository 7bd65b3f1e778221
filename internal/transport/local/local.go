// Package local links the leader to workers running as goroutines in the same
// process. Channels are unbuffered, so every send is a rendezvous with the
// matching receive.
package local

import (
	"context"
	"fmt"
	"sync"

	"distributed-quadrature/internal/domain"
)

type link struct {
	rank      int
	toWorker  chan domain.Message
	toLeader  chan float64
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *link) closedErr() error {
	return fmt.Errorf("local link to rank %d: %w: %w", l.rank, domain.ErrPeerUnreachable, domain.ErrLinkClosed)
}

// NewCluster builds links for a group of p processes. peers[k] and
// endpoints[k] are the two ends of the link to rank k+1.
func NewCluster(p int) (peers []domain.Peer, endpoints []domain.Endpoint) {
	if p < 1 {
		p = 1
	}
	peers = make([]domain.Peer, 0, p-1)
	endpoints = make([]domain.Endpoint, 0, p-1)
	for rank := 1; rank < p; rank++ {
		l := &link{
			rank:     rank,
			toWorker: make(chan domain.Message),
			toLeader: make(chan float64),
			done:     make(chan struct{}),
		}
		peers = append(peers, &peer{l})
		endpoints = append(endpoints, &endpoint{l})
	}
	return peers, endpoints
}

type peer struct{ *link }

func (p *peer) Send(ctx context.Context, msg domain.Message) error {
	select {
	case p.toWorker <- msg:
		return nil
	case <-p.done:
		return p.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) Recv(ctx context.Context) (float64, error) {
	select {
	case v := <-p.toLeader:
		return v, nil
	case <-p.done:
		return 0, p.closedErr()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *peer) Close() error {
	p.close()
	return nil
}

type endpoint struct{ *link }

func (e *endpoint) Recv(ctx context.Context) (domain.Message, error) {
	select {
	case msg := <-e.toWorker:
		return msg, nil
	case <-e.done:
		return nil, domain.ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) Send(ctx context.Context, contribution float64) error {
	select {
	case e.toLeader <- contribution:
		return nil
	case <-e.done:
		return domain.ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
