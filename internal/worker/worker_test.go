package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/quadrature"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedEndpoint replays a fixed list of messages and records every call.
type scriptedEndpoint struct {
	inbox   []domain.Message
	recvErr error
	sent    []float64
	recvs   int
}

func (s *scriptedEndpoint) Recv(context.Context) (domain.Message, error) {
	s.recvs++
	if len(s.inbox) == 0 {
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, errors.New("script exhausted")
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

func (s *scriptedEndpoint) Send(_ context.Context, v float64) error {
	s.sent = append(s.sent, v)
	return nil
}

func TestLoopAnswersWorkThenStopsOnShutdown(t *testing.T) {
	const n = 16
	ep := &scriptedEndpoint{inbox: []domain.Message{
		domain.Work{Midpoint: domain.Midpoint(1, n)},
		domain.Work{Midpoint: domain.Midpoint(5, n)},
		domain.Shutdown{},
		domain.Work{Midpoint: domain.Midpoint(9, n)},
	}}
	w := NewWorker(1, quadrature.GaussLegendre{}, quadrature.Pi, n, discardLogger())

	served, err := w.Loop(context.Background(), ep)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if served != 2 || len(ep.sent) != 2 {
		t.Fatalf("served %d, sent %d replies; want 2 and 2", served, len(ep.sent))
	}
	if ep.recvs != 3 {
		t.Errorf("worker made %d receive calls, want 3 (none after shutdown)", ep.recvs)
	}

	for k, i := range []int{1, 5} {
		want := quadrature.Contribution(quadrature.GaussLegendre{}, quadrature.Pi, i, n)
		if math.Abs(ep.sent[k]-want) > 1e-15 {
			t.Errorf("reply %d = %.17f, want %.17f", k, ep.sent[k], want)
		}
	}
}

// The reply depends on the received midpoint, not on any loop position.
func TestLoopUsesReceivedMidpoint(t *testing.T) {
	const n = 16
	ep := &scriptedEndpoint{inbox: []domain.Message{
		domain.Work{Midpoint: domain.Midpoint(15, n)},
		domain.Work{Midpoint: domain.Midpoint(0, n)},
		domain.Shutdown{},
	}}
	w := NewWorker(3, quadrature.Midpoint{}, quadrature.Pi, n, discardLogger())
	if _, err := w.Loop(context.Background(), ep); err != nil {
		t.Fatal(err)
	}
	if !(ep.sent[0] < ep.sent[1]) {
		t.Errorf("contribution near x=1 (%g) should be smaller than near x=0 (%g)", ep.sent[0], ep.sent[1])
	}
}

func TestLoopReturnsReceiveErrors(t *testing.T) {
	ep := &scriptedEndpoint{recvErr: domain.ErrLinkClosed}
	w := NewWorker(1, quadrature.Midpoint{}, quadrature.Pi, 16, discardLogger())
	if _, err := w.Loop(context.Background(), ep); !errors.Is(err, domain.ErrLinkClosed) {
		t.Errorf("got %v, want ErrLinkClosed", err)
	}
}

func TestLoopRejectsEmptyMessages(t *testing.T) {
	ep := &scriptedEndpoint{inbox: []domain.Message{nil}}
	w := NewWorker(1, quadrature.Midpoint{}, quadrature.Pi, 16, discardLogger())
	if _, err := w.Loop(context.Background(), ep); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Errorf("got %v, want ErrMalformedMessage", err)
	}
}

func TestLoopLogsRuntimeOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ep := &scriptedEndpoint{inbox: []domain.Message{domain.Work{Midpoint: 0.5}, domain.Shutdown{}}}
	w := NewWorker(2, quadrature.Midpoint{}, quadrature.Pi, 16, logger)
	if _, err := w.Loop(context.Background(), ep); err != nil {
		t.Fatal(err)
	}

	type logEntry struct {
		Msg     string `json:"msg"`
		Served  int    `json:"served"`
		Elapsed *int64 `json:"elapsed"`
	}
	var found *logEntry
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry logEntry
		if err := json.Unmarshal(line, &entry); err == nil && entry.Msg == "received shutdown" {
			found = &entry
			break
		}
	}
	if found == nil {
		t.Fatalf("no shutdown log line in:\n%s", buf.String())
	}
	if found.Served != 1 || found.Elapsed == nil {
		t.Errorf("shutdown log = %+v, want served=1 and an elapsed runtime", *found)
	}
}
