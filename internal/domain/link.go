// internal/domain/link.go
package domain

import "context"

// LeaderRank is the rank of the coordinating process.
const LeaderRank = 0

// Peer is the leader's end of the link to one worker.
type Peer interface {
	// Send delivers one message to the worker.
	Send(ctx context.Context, msg Message) error
	// Recv blocks until the worker replies with a contribution.
	Recv(ctx context.Context) (float64, error)
	Close() error
}

// Endpoint is a worker's end of its link to the leader.
type Endpoint interface {
	Recv(ctx context.Context) (Message, error)
	Send(ctx context.Context, contribution float64) error
}
