// internal/domain/message.go
package domain

import "fmt"

// MessageKind names a variant of Message.
type MessageKind string

const (
	MessageKindWork     MessageKind = "work"
	MessageKindShutdown MessageKind = "shutdown"
)

// Message is what the leader sends to a worker. It is either Work or Shutdown.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// Work asks a worker for the contribution of the sample interval centred on Midpoint.
type Work struct {
	Midpoint float64
}

func (Work) Kind() MessageKind { return MessageKindWork }
func (Work) isMessage()        {}

func (w Work) String() string { return fmt.Sprintf("work(%g)", w.Midpoint) }

// Shutdown ends a worker's receive loop.
type Shutdown struct{}

func (Shutdown) Kind() MessageKind { return MessageKindShutdown }
func (Shutdown) isMessage()        {}

func (Shutdown) String() string { return "shutdown" }
