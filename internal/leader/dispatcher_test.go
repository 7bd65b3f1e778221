package leader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/quadrature"
	"distributed-quadrature/internal/transport/local"
	"distributed-quadrature/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingPeer counts the messages sent over a link.
type recordingPeer struct {
	domain.Peer
	mu        sync.Mutex
	work      int
	shutdowns int
}

func (r *recordingPeer) Send(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	switch msg.(type) {
	case domain.Work:
		r.work++
	case domain.Shutdown:
		r.shutdowns++
	}
	r.mu.Unlock()
	return r.Peer.Send(ctx, msg)
}

type cluster struct {
	peers      []*recordingPeer
	served     []int
	errs       []error
	wg         sync.WaitGroup
	dispatcher *Dispatcher
}

// startCluster wires a dispatcher to p-1 worker goroutines over local links.
func startCluster(t *testing.T, p, samples int, rule quadrature.Rule) *cluster {
	t.Helper()
	peers, endpoints := local.NewCluster(p)

	c := &cluster{
		served: make([]int, len(endpoints)),
		errs:   make([]error, len(endpoints)),
	}
	wrapped := make([]domain.Peer, len(peers))
	for k, peer := range peers {
		rp := &recordingPeer{Peer: peer}
		c.peers = append(c.peers, rp)
		wrapped[k] = rp
	}

	for k, ep := range endpoints {
		w := worker.NewWorker(k+1, rule, quadrature.Pi, samples, discardLogger())
		c.wg.Add(1)
		go func(k int, ep domain.Endpoint) {
			defer c.wg.Done()
			c.served[k], c.errs[k] = w.Loop(context.Background(), ep)
		}(k, ep)
	}

	d, err := NewDispatcher(Options{Rule: rule, Integrand: quadrature.Pi, Samples: samples}, wrapped, discardLogger())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	c.dispatcher = d
	return c
}

func (c *cluster) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestSingleProcessComputesEverythingLocally(t *testing.T) {
	c := startCluster(t, 1, 16, quadrature.GaussLegendre{})
	res, err := c.dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.wait(t)

	if res.Processes != 1 || res.PerRank[0] != 16 {
		t.Errorf("processes=%d perRank=%v, want 1 and [16]", res.Processes, res.PerRank)
	}
	if diff := math.Abs(res.Estimate - math.Pi); diff > 1e-4 {
		t.Errorf("estimate %.12f off by %g", res.Estimate, diff)
	}
}

func TestFourProcessesRoundRobin(t *testing.T) {
	c := startCluster(t, 4, 16, quadrature.GaussLegendre{})
	res, err := c.dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.wait(t)

	for rank, n := range res.PerRank {
		if n != 4 {
			t.Errorf("rank %d evaluated %d samples, want 4", rank, n)
		}
	}
	for k, rp := range c.peers {
		if rp.work != 4 {
			t.Errorf("rank %d was sent %d work items, want 4", k+1, rp.work)
		}
		if rp.shutdowns != 1 {
			t.Errorf("rank %d was sent %d shutdowns, want 1", k+1, rp.shutdowns)
		}
		if c.served[k] != 4 || c.errs[k] != nil {
			t.Errorf("rank %d served %d items with error %v", k+1, c.served[k], c.errs[k])
		}
	}
}

func TestEstimateIndependentOfProcessCount(t *testing.T) {
	for _, rule := range []quadrature.Rule{quadrature.Midpoint{}, quadrature.GaussLegendre{}} {
		t.Run(rule.Name(), func(t *testing.T) {
			c := startCluster(t, 1, 16, rule)
			base, err := c.dispatcher.Run(context.Background())
			if err != nil {
				t.Fatalf("P=1: %v", err)
			}
			c.wait(t)

			if math.Abs(base.Estimate-math.Pi) > 1e-3 {
				t.Errorf("P=1 estimate %.10f is not within 1e-3 of pi", base.Estimate)
			}

			for _, p := range []int{2, 3, 4, 7, 16} {
				c := startCluster(t, p, 16, rule)
				res, err := c.dispatcher.Run(context.Background())
				if err != nil {
					t.Fatalf("P=%d: %v", p, err)
				}
				c.wait(t)
				if math.Abs(res.Estimate-base.Estimate) > 1e-12 {
					t.Errorf("P=%d estimate %.15f differs from P=1 estimate %.15f", p, res.Estimate, base.Estimate)
				}
			}
		})
	}
}

func TestMoreWorkersThanSamplesStillShutsEveryoneDown(t *testing.T) {
	c := startCluster(t, 6, 3, quadrature.GaussLegendre{})
	res, err := c.dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.wait(t)

	want := []int{1, 1, 1, 0, 0, 0}
	for rank := range want {
		if res.PerRank[rank] != want[rank] {
			t.Errorf("perRank = %v, want %v", res.PerRank, want)
			break
		}
	}
	for k, rp := range c.peers {
		if rp.shutdowns != 1 {
			t.Errorf("rank %d got %d shutdowns, want 1", k+1, rp.shutdowns)
		}
	}
}

// stallingPeer accepts work but never answers.
type stallingPeer struct {
	mu        sync.Mutex
	shutdowns int
}

func (s *stallingPeer) Send(ctx context.Context, msg domain.Message) error {
	if _, ok := msg.(domain.Shutdown); ok {
		s.mu.Lock()
		s.shutdowns++
		s.mu.Unlock()
	}
	return nil
}

func (s *stallingPeer) Recv(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *stallingPeer) Close() error { return nil }

func TestRoundTripTimeout(t *testing.T) {
	stall := &stallingPeer{}
	d, err := NewDispatcher(Options{
		Rule:             quadrature.GaussLegendre{},
		Samples:          16,
		RoundTripTimeout: 20 * time.Millisecond,
	}, []domain.Peer{stall}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Run(context.Background())
	if !errors.Is(err, domain.ErrRoundTripTimeout) {
		t.Fatalf("got %v, want ErrRoundTripTimeout", err)
	}
	if stall.shutdowns != 1 {
		t.Errorf("stalled worker got %d shutdowns, want 1", stall.shutdowns)
	}
}

// brokenPeer fails every send.
type brokenPeer struct{}

func (brokenPeer) Send(context.Context, domain.Message) error {
	return domain.ErrPeerUnreachable
}
func (brokenPeer) Recv(context.Context) (float64, error) { return 0, domain.ErrPeerUnreachable }
func (brokenPeer) Close() error                          { return nil }

func TestUnreachableWorkerFailsRunButOthersAreStopped(t *testing.T) {
	peers, endpoints := local.NewCluster(3)
	healthy := &recordingPeer{Peer: peers[1]}

	w := worker.NewWorker(2, quadrature.GaussLegendre{}, quadrature.Pi, 16, discardLogger())
	done := make(chan error, 1)
	go func() {
		_, err := w.Loop(context.Background(), endpoints[1])
		done <- err
	}()

	d, err := NewDispatcher(Options{Rule: quadrature.GaussLegendre{}, Samples: 16},
		[]domain.Peer{brokenPeer{}, healthy}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Run(context.Background()); !errors.Is(err, domain.ErrPeerUnreachable) {
		t.Fatalf("got %v, want ErrPeerUnreachable", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("healthy worker stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("healthy worker was not shut down")
	}
	if healthy.shutdowns != 1 {
		t.Errorf("healthy worker got %d shutdowns, want 1", healthy.shutdowns)
	}
}

// negativePeer answers with an impossible contribution.
type negativePeer struct{ stallingPeer }

func (n *negativePeer) Recv(context.Context) (float64, error) { return -1, nil }

func TestNegativeContributionIsRejected(t *testing.T) {
	d, err := NewDispatcher(Options{Rule: quadrature.Midpoint{}, Samples: 4},
		[]domain.Peer{&negativePeer{}}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("got %v, want ErrMalformedMessage", err)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(Options{Rule: quadrature.Midpoint{}}, nil, discardLogger()); err == nil {
		t.Error("expected error for zero samples")
	}
	if _, err := NewDispatcher(Options{Samples: 16}, nil, discardLogger()); err == nil {
		t.Error("expected error for missing rule")
	}
	if _, err := NewDispatcher(Options{Rule: quadrature.Midpoint{}, Samples: 16}, []domain.Peer{nil}, discardLogger()); err == nil {
		t.Error("expected error for nil peer")
	}
}

// shutdownFailingPeer answers work normally but cannot deliver the shutdown.
type shutdownFailingPeer struct {
	domain.Peer
}

func (s *shutdownFailingPeer) Send(ctx context.Context, msg domain.Message) error {
	if _, ok := msg.(domain.Shutdown); ok {
		// Free the worker goroutine the way a dropped connection would.
		s.Peer.Close()
		return domain.ErrPeerUnreachable
	}
	return s.Peer.Send(ctx, msg)
}

func TestFailedShutdownKeepsCompletedEstimate(t *testing.T) {
	const n = 16
	peers, endpoints := local.NewCluster(2)
	w := worker.NewWorker(1, quadrature.GaussLegendre{}, quadrature.Pi, n, discardLogger())
	go w.Loop(context.Background(), endpoints[0])

	d, err := NewDispatcher(Options{Rule: quadrature.GaussLegendre{}, Samples: n},
		[]domain.Peer{&shutdownFailingPeer{Peer: peers[0]}}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res == nil {
		t.Fatal("completed run returned no result")
	}
	if !errors.Is(res.ShutdownErr, domain.ErrPeerUnreachable) {
		t.Errorf("ShutdownErr = %v, want ErrPeerUnreachable", res.ShutdownErr)
	}
	if res.PerRank[0] != n/2 || res.PerRank[1] != n/2 {
		t.Errorf("perRank = %v, want [8 8]", res.PerRank)
	}
	if math.Abs(res.Estimate-math.Pi) > 1e-10 {
		t.Errorf("estimate %.15f too far from pi", res.Estimate)
	}
}

func TestSuccessfulRunHasNoShutdownError(t *testing.T) {
	c := startCluster(t, 3, 16, quadrature.GaussLegendre{})
	res, err := c.dispatcher.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.wait(t)
	if res.ShutdownErr != nil {
		t.Errorf("ShutdownErr = %v", res.ShutdownErr)
	}
}

// A local worker still evaluating when its round trip times out ends up
// blocked on its reply. The sweep must release it without waiting out the
// shutdown timeout.
func TestTimedOutLocalWorkerIsReleasedPromptly(t *testing.T) {
	peers, endpoints := local.NewCluster(2)
	slowPi := func(x float64) float64 {
		time.Sleep(100 * time.Millisecond)
		return quadrature.Pi(x)
	}
	w := worker.NewWorker(1, quadrature.Midpoint{}, slowPi, 16, discardLogger())
	done := make(chan error, 1)
	go func() {
		_, err := w.Loop(context.Background(), endpoints[0])
		done <- err
	}()

	d, err := NewDispatcher(Options{
		Rule:             quadrature.Midpoint{},
		Samples:          16,
		RoundTripTimeout: 10 * time.Millisecond,
		ShutdownTimeout:  10 * time.Second,
	}, peers, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := d.Run(context.Background()); !errors.Is(err, domain.ErrRoundTripTimeout) {
		t.Fatalf("got %v, want ErrRoundTripTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %s; the sweep waited on a stuck worker", elapsed)
	}

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrLinkClosed) {
			t.Errorf("worker stopped with %v, want ErrLinkClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed-out worker was never released")
	}
}
