package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/msgwire/internal/protocol/headers"
	"github.com/danmuck/msgwire/internal/protocol/messages"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/rs/zerolog"
)

var ErrUnknownSendStream = errors.New("session: message stream not open on this connection")

// ConnError is a transport fault on one connection.
type ConnError struct {
	ID  transport.ConnID
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("session: conn %d: %v", e.ID, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// Conn is the protocol state attached to one transport connection.
type Conn struct {
	conn    transport.Conn
	reg     *messages.Registry
	log     zerolog.Logger
	headers *headers.RecvStreamHeaders
	recv    *messages.RecvBuffers
	inboxes *messages.Inboxes
	send    []*messages.SendStream
	// closing streams are finished once their buffer drains.
	closing []*messages.SendStream
}

func newConn(conn transport.Conn, reg *messages.Registry, log zerolog.Logger) *Conn {
	return &Conn{
		conn:    conn,
		reg:     reg,
		log:     log.With().Uint64("conn", uint64(conn.ID())).Logger(),
		headers: headers.NewRecvStreamHeaders(),
		recv:    messages.NewRecvBuffers(),
		inboxes: messages.NewInboxes(),
	}
}

func (c *Conn) ID() transport.ConnID {
	return c.conn.ID()
}

// Transport returns the underlying connection.
func (c *Conn) Transport() transport.Conn {
	return c.conn
}

// OpenMessageStream opens a unidirectional message stream and starts
// writing its header. The stream is flushed on every Tick.
func (c *Conn) OpenMessageStream() (*messages.SendStream, error) {
	id, err := c.conn.OpenStream(transport.Uni)
	if err != nil {
		return nil, err
	}
	s := messages.NewSendStream(id)
	if err := s.Flush(c.conn); err != nil {
		return nil, err
	}
	c.send = append(c.send, s)
	c.log.Debug().Uint64("stream", uint64(id)).Msg("opened message stream")
	return s, nil
}

// CloseMessageStream stops tracking s and finishes it once every buffered
// message has been accepted by the transport. s must not be sent on
// afterwards.
func (c *Conn) CloseMessageStream(s *messages.SendStream) error {
	i := slices.Index(c.send, s)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownSendStream, s.StreamID())
	}
	c.send = slices.Delete(c.send, i, i+1)
	c.closing = append(c.closing, s)
	return c.finishDrained()
}

func (c *Conn) finishDrained() error {
	kept := c.closing[:0]
	for _, s := range c.closing {
		if err := s.Flush(c.conn); err != nil {
			return err
		}
		if !s.Uncongested() {
			kept = append(kept, s)
			continue
		}
		if err := c.conn.FinishSendStream(s.StreamID()); err != nil {
			return err
		}
		c.log.Debug().Uint64("stream", uint64(s.StreamID())).Msg("finished message stream")
	}
	clear(c.closing[len(kept):])
	c.closing = kept
	return nil
}

// SendStreams returns the message streams opened on this connection.
func (c *Conn) SendStreams() []*messages.SendStream {
	return c.send
}

// Buffered returns the bytes waiting in every send stream, including
// streams that are closing.
func (c *Conn) Buffered() int {
	n := 0
	for _, s := range c.send {
		n += s.Buffered()
	}
	for _, s := range c.closing {
		n += s.Buffered()
	}
	return n
}

// Streams returns how many streams are awaiting a header and how many
// message streams are being decoded.
func (c *Conn) Streams() (pending, decoding int) {
	return c.headers.Pending(), c.recv.Streams()
}

// Received returns the inbox of T messages decoded on c.
func Received[T any](c *Conn, id messages.ID[T]) *messages.Inbox[T] {
	return messages.InboxOf(c.inboxes, id)
}

// Send encodes msg onto s, a stream opened by c.OpenMessageStream.
func Send[T any](c *Conn, s *messages.SendStream, id messages.ID[T], msg T, queue bool) (bool, error) {
	return messages.Send(s, c.conn, id, msg, queue)
}

func (c *Conn) tick() error {
	if err := c.conn.Err(); err != nil {
		return err
	}
	if err := c.headers.Read(c.conn, c.log); err != nil {
		return err
	}
	c.recv.TakeStreams(c.headers, c.log)
	if err := c.recv.Read(c.conn, c.log); err != nil {
		return err
	}
	c.reg.Route(c.recv, c.inboxes, c.log)
	for _, s := range c.send {
		if err := s.Flush(c.conn); err != nil {
			return err
		}
	}
	return c.finishDrained()
}
