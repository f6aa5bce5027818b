package tele

import "context"

type EventKind uint8

const (
	EventInvalid EventKind = iota
	EventConnected
	EventDisconnected
	EventMessage
)

func (ek EventKind) String() string {
	switch ek {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	}
	return "invalid"
}

// Event is delivered by the transport on its own goroutines and drained
// by Session.Tick on the loop thread; nothing else may consume it.
type Event struct {
	Kind    EventKind
	Err     error
	Topic   string
	Payload []byte
}

// Transport contract:
// - Connect blocks until broker ack or ctx/config timeout, whichever first
// - Publish blocks for the ack at most the network timeout
// - Disconnect tears down the link, never fails
// - Events carries link-loss and inbound messages; callbacks never run
//   application code directly
type Transporter interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(topic string, payload []byte) error
	Events() <-chan Event
	Close()
}
