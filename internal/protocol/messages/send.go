package messages

import (
	"bytes"
	"fmt"

	"github.com/danmuck/msgwire/internal/observability"
	"github.com/danmuck/msgwire/internal/protocol"
	"github.com/danmuck/msgwire/internal/protocol/frame"
	"github.com/danmuck/msgwire/internal/protocol/headers"
	"github.com/danmuck/msgwire/internal/transport"
)

// SendStream buffers framed messages for one outgoing message stream and
// writes as much as the transport accepts on every flush.
//
// A new stream is congested until its purpose header has been flushed;
// call Flush once after opening it.
type SendStream struct {
	stream *headers.SendStream
	buf    bytes.Buffer
}

func NewSendStream(id transport.StreamID) *SendStream {
	return &SendStream{stream: headers.NewSendStream(id, protocol.PurposeMessages)}
}

func (s *SendStream) StreamID() transport.StreamID {
	return s.stream.StreamID()
}

// Uncongested reports whether the header and every buffered message have
// been accepted by the transport.
func (s *SendStream) Uncongested() bool {
	return s.stream.HeaderSent() && s.buf.Len() == 0
}

// Buffered returns the message bytes not yet accepted by the transport.
func (s *SendStream) Buffered() int {
	return s.buf.Len()
}

// Flush writes as much of the buffer as the transport accepts.
func (s *SendStream) Flush(conn transport.Conn) error {
	n, err := s.stream.Write(conn, s.buf.Bytes())
	if err != nil {
		return err
	}
	s.buf.Next(n)
	observability.RecordBytesFlushed(n)
	return nil
}

// Send encodes msg and appends it to the stream buffer.
//
// With queue false a congested stream refuses the message and Send returns
// false with the buffer untouched; retry once Uncongested is true. With
// queue true the message is always buffered, so sustained congestion grows
// the buffer without bound and the caller must cap its use.
//
// Messages whose encoding exceeds protocol.MaxMessageLen are rejected with
// protocol.ErrMessageTooLarge before anything is buffered. A flush error is
// a transport fault; the message stays buffered.
func Send[T any](s *SendStream, conn transport.Conn, id ID[T], msg T, queue bool) (bool, error) {
	if !queue && !s.Uncongested() {
		observability.RecordSendDeferred()
		return false, nil
	}
	payload, err := id.Encode(msg)
	if err != nil {
		return false, fmt.Errorf("messages: encode %s: %w", id.Name(), err)
	}
	if err := s.append(id.id, payload); err != nil {
		return false, fmt.Errorf("%w: %s", err, id.Name())
	}
	observability.RecordMessageSent(id.Name())
	return true, s.Flush(conn)
}

// SendRaw is Send for an already encoded payload.
func (s *SendStream) SendRaw(conn transport.Conn, typeID uint16, payload []byte, queue bool) (bool, error) {
	if !queue && !s.Uncongested() {
		observability.RecordSendDeferred()
		return false, nil
	}
	if err := s.append(typeID, payload); err != nil {
		return false, err
	}
	return true, s.Flush(conn)
}

func (s *SendStream) append(typeID uint16, payload []byte) error {
	framed, err := frame.AppendFrame(s.buf.AvailableBuffer(), typeID, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrMessageTooLarge, err)
	}
	s.buf.Write(framed)
	return nil
}
