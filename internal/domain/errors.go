// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrPeerUnreachable is returned when a message cannot be delivered to a peer.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrRoundTripTimeout is returned when a worker does not answer a work item in time.
	ErrRoundTripTimeout = errors.New("round trip timed out")
	// ErrMalformedMessage is returned when a frame carries no known message kind.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrLinkClosed is returned by a link whose other end has gone away.
	ErrLinkClosed = errors.New("link closed")
)
