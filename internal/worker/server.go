// internal/worker/server.go
package worker

import (
	"log/slog"
	"sync"
	"time"

	"distributed-quadrature/internal/transport/rpc"

	"google.golang.org/grpc"
)

// Server implements rpc.ExchangeServer by running the worker loop on each
// Exchange stream.
type Server struct {
	worker   *Worker
	logger   *slog.Logger
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer creates the grpc server side of a worker.
func NewServer(w *Worker, logger *slog.Logger) *Server {
	return &Server{
		worker: w,
		logger: logger.With("component", "grpc-server", "rank", w.Rank()),
		done:   make(chan struct{}),
	}
}

// Exchange is the RPC method the leader streams work items over.
func (s *Server) Exchange(stream grpc.ServerStream) error {
	s.logger.Info("leader opened work stream")
	start := time.Now()

	served, err := s.worker.Loop(stream.Context(), rpc.NewStreamEndpoint(stream))
	if err != nil {
		s.logger.Error("work stream ended with error", "served", served, "elapsed", time.Since(start), "error", err)
		return rpc.ToStatus(err)
	}

	s.logger.Info("work stream shut down", "served", served, "elapsed", time.Since(start))
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed once a leader has sent a shutdown.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
