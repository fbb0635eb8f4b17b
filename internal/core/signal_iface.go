package core

import "errors"

// Frame is a raw encoded payload ready to be written to a client.
type Frame []byte

// SessionID identifies one live connection. A user reconnecting gets a new one.
type SessionID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: it returns ErrBackpressure when the outbound queue is full
// and ErrClosed once Close has been called.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
