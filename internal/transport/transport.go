// Package transport defines the non-blocking, multi-stream connection view
// the protocol layers are driven against.
//
// Ownership boundary:
// - stream and connection identifiers
// - read/write outcome contract (data, blocked, clean end, reset, fault)
package transport

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ConnID identifies one connection within a process.
type ConnID uint64

var lastConnID atomic.Uint64

// NextConnID returns a process-unique connection id. Adapters share it so
// connections from different transports can live in one endpoint.
func NextConnID() ConnID {
	return ConnID(lastConnID.Add(1))
}

// StreamID is a connection-scoped stream handle. It is never reused.
type StreamID uint64

type Direction uint8

const (
	Uni Direction = iota
	Bi
)

// Directions lists every direction in acceptance order.
var Directions = [...]Direction{Uni, Bi}

func (d Direction) String() string {
	switch d {
	case Uni:
		return "uni"
	case Bi:
		return "bi"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ErrClosed reports that the connection was closed, by either side.
var ErrClosed = errors.New("transport: connection closed")

// ErrBlocked reports that a stream has no data (or no write capacity) yet.
var ErrBlocked = errors.New("transport: stream blocked")

// ResetError reports that the peer abruptly reset a stream.
type ResetError struct {
	Code uint64
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("transport: stream reset with code %d", e.Code)
}

// Conn is the per-tick view of one multi-stream connection.
//
// Reads never block: ReadRecvStream returns data, ErrBlocked, io.EOF for a
// clean end, a *ResetError, or any other error which is fatal to the
// connection. WriteSendStream returns how many bytes the transport took.
// Err reports a fault or closure even when the connection has no streams;
// a closure wraps ErrClosed.
type Conn interface {
	ID() ConnID
	Err() error
	AcceptStream(dir Direction) (StreamID, bool)
	ReadRecvStream(id StreamID, max int, allowPartial bool) ([]byte, error)
	WriteSendStream(id StreamID, data []byte) (int, error)
	OpenStream(dir Direction) (StreamID, error)
	FinishSendStream(id StreamID) error
	ResetSendStream(id StreamID, code uint64) error
	CloseWithError(code uint64, reason string) error
}

// IsReset returns the reset code when err is a *ResetError.
func IsReset(err error) (uint64, bool) {
	var reset *ResetError
	if errors.As(err, &reset) {
		return reset.Code, true
	}
	return 0, false
}
