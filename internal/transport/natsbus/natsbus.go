// Package natsbus carries leader/worker messages as NATS request/reply pairs.
// Each worker rank listens on its own subject; the leader keeps one reply
// inbox per worker so replies cannot cross.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/transport/frame"

	"github.com/nats-io/nats.go"
)

const (
	statusHeader      = "Status"
	noRespondersValue = "503"
)

// Subject is the subject the worker of the given rank listens on.
func Subject(prefix string, rank int) string {
	return prefix + ".worker." + strconv.Itoa(rank)
}

// Connect dials the NATS server at url.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to nats", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w: %v", url, domain.ErrPeerUnreachable, err)
	}
	return nc, nil
}

// Peer is the leader's end of the link to one worker.
type Peer struct {
	nc      *nats.Conn
	rank    int
	subject string
	inbox   string
	sub     *nats.Subscription

	closeOnce sync.Once
	closeErr  error
}

// NewPeer prepares a link to the worker of rank.
func NewPeer(nc *nats.Conn, prefix string, rank int) (*Peer, error) {
	inbox := nc.NewRespInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe reply inbox for rank %d: %w", rank, err)
	}
	return &Peer{
		nc:      nc,
		rank:    rank,
		subject: Subject(prefix, rank),
		inbox:   inbox,
		sub:     sub,
	}, nil
}

func (p *Peer) Send(ctx context.Context, msg domain.Message) error {
	data, err := frame.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.nc.PublishRequest(p.subject, p.inbox, data); err != nil {
		return fmt.Errorf("rank %d on %s: %w: %v", p.rank, p.subject, domain.ErrPeerUnreachable, err)
	}
	if _, ok := msg.(domain.Shutdown); ok {
		if err := p.nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("rank %d on %s: %w: %v", p.rank, p.subject, domain.ErrPeerUnreachable, err)
		}
	}
	return nil
}

func (p *Peer) Recv(ctx context.Context) (float64, error) {
	m, err := p.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("rank %d on %s: %w: %v", p.rank, p.subject, domain.ErrPeerUnreachable, err)
	}
	if m.Header != nil && m.Header.Get(statusHeader) == noRespondersValue {
		return 0, fmt.Errorf("rank %d on %s: %w: no worker subscribed", p.rank, p.subject, domain.ErrPeerUnreachable)
	}
	v, err := frame.UnmarshalReply(m.Data)
	if err != nil {
		return 0, fmt.Errorf("rank %d on %s: %w", p.rank, p.subject, err)
	}
	return v, nil
}

// Close drops the reply inbox. Send still works afterwards, so a Shutdown
// can follow a Close.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.sub.Unsubscribe() })
	return p.closeErr
}

// Endpoint is a worker's end of its link to the leader. Its synchronous
// subscription is the worker's receive loop.
type Endpoint struct {
	nc    *nats.Conn
	sub   *nats.Subscription
	reply string
}

// Listen subscribes to the subject of rank.
func Listen(nc *nats.Conn, prefix string, rank int) (*Endpoint, error) {
	sub, err := nc.SubscribeSync(Subject(prefix, rank))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe as rank %d: %w", rank, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription for rank %d: %w", rank, err)
	}
	return &Endpoint{nc: nc, sub: sub}, nil
}

func (e *Endpoint) Recv(ctx context.Context) (domain.Message, error) {
	m, err := e.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, domain.ErrLinkClosed
		}
		return nil, err
	}
	e.reply = m.Reply
	return frame.Unmarshal(m.Data)
}

func (e *Endpoint) Send(ctx context.Context, contribution float64) error {
	if e.reply == "" {
		return fmt.Errorf("%w: no request to reply to", domain.ErrMalformedMessage)
	}
	data, err := frame.MarshalReply(contribution)
	if err != nil {
		return err
	}
	reply := e.reply
	e.reply = ""
	return e.nc.Publish(reply, data)
}

func (e *Endpoint) Close() error {
	return e.sub.Unsubscribe()
}
