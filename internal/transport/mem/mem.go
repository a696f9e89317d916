// Package mem provides an in-process transport.Conn pair with knobs for
// write capacity, read chunking, stream resets and connection faults.
package mem

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/msgwire/internal/transport"
)

var (
	ErrUnknownStream = errors.New("mem: unknown stream")
	ErrStreamClosed  = errors.New("mem: write on finished stream")
	ErrConnClosed    = fmt.Errorf("mem: %w", transport.ErrClosed)
)

// Options tunes a Pipe. Zero values mean unlimited.
type Options struct {
	// SendWindow caps the unread bytes one stream half may hold.
	SendWindow int
	// ReadChunk caps the bytes returned by a single read.
	ReadChunk int
}

type half struct {
	buf      []byte
	finished bool
	reset    bool
	code     uint64
}

type stream struct {
	id     transport.StreamID
	dir    transport.Direction
	opener int
	// halves are indexed by the writing side.
	halves [2]*half
}

type link struct {
	mu       sync.Mutex
	streams  map[transport.StreamID]*stream
	accept   [2][2][]transport.StreamID
	next     [2][2]uint64
	closed   bool
	code     uint64
	reason   string
	opts     [2]Options
	faults   [2]error
	received [2]int
}

// Conn is one side of a Pipe.
type Conn struct {
	id   transport.ConnID
	side int
	l    *link
}

// Pipe returns two connected in-memory connections.
func Pipe(opts Options) (*Conn, *Conn) {
	l := &link{
		streams: make(map[transport.StreamID]*stream),
		opts:    [2]Options{opts, opts},
	}
	a := &Conn{id: transport.NextConnID(), side: 0, l: l}
	b := &Conn{id: transport.NextConnID(), side: 1, l: l}
	return a, b
}

func (c *Conn) ID() transport.ConnID { return c.id }

// SetOptions replaces the options used by this side's reads and writes.
func (c *Conn) SetOptions(opts Options) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	c.l.opts[c.side] = opts
}

// Fail makes every subsequent call on this side return err.
func (c *Conn) Fail(err error) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	c.l.faults[c.side] = err
}

// Unread returns how many bytes written by this side on id the peer has not
// read yet.
func (c *Conn) Unread(id transport.StreamID) int {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	st, ok := c.l.streams[id]
	if !ok || st.halves[c.side] == nil {
		return 0
	}
	return len(st.halves[c.side].buf)
}

// Received returns the total bytes this side has read.
func (c *Conn) Received() int {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	return c.l.received[c.side]
}

func (c *Conn) check() error {
	if err := c.l.faults[c.side]; err != nil {
		return err
	}
	if c.l.closed {
		return fmt.Errorf("%w: code=%d reason=%q", ErrConnClosed, c.l.code, c.l.reason)
	}
	return nil
}

func (c *Conn) Err() error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	return c.check()
}

func (c *Conn) AcceptStream(dir transport.Direction) (transport.StreamID, bool) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if c.check() != nil {
		return 0, false
	}
	q := c.l.accept[c.side][dir]
	if len(q) == 0 {
		return 0, false
	}
	id := q[0]
	c.l.accept[c.side][dir] = q[1:]
	return id, true
}

func (c *Conn) OpenStream(dir transport.Direction) (transport.StreamID, error) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.check(); err != nil {
		return 0, err
	}
	seq := c.l.next[c.side][dir]
	c.l.next[c.side][dir]++
	id := transport.StreamID(seq<<2 | uint64(dir)<<1 | uint64(c.side))
	st := &stream{id: id, dir: dir, opener: c.side}
	st.halves[c.side] = &half{}
	if dir == transport.Bi {
		st.halves[1-c.side] = &half{}
	}
	c.l.streams[id] = st
	peer := 1 - c.side
	c.l.accept[peer][dir] = append(c.l.accept[peer][dir], id)
	return id, nil
}

func (c *Conn) recvHalf(id transport.StreamID) (*half, error) {
	st, ok := c.l.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	h := st.halves[1-c.side]
	if h == nil {
		return nil, fmt.Errorf("%w: %d is not readable", ErrUnknownStream, id)
	}
	return h, nil
}

func (c *Conn) sendHalf(id transport.StreamID) (*half, error) {
	st, ok := c.l.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	h := st.halves[c.side]
	if h == nil {
		return nil, fmt.Errorf("%w: %d is not writable", ErrUnknownStream, id)
	}
	return h, nil
}

func (c *Conn) ReadRecvStream(id transport.StreamID, max int, allowPartial bool) ([]byte, error) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := c.recvHalf(id)
	if err != nil {
		return nil, err
	}
	if h.reset {
		return nil, &transport.ResetError{Code: h.code}
	}
	if len(h.buf) == 0 {
		if h.finished {
			return nil, io.EOF
		}
		return nil, transport.ErrBlocked
	}
	if !allowPartial && len(h.buf) < max && !h.finished {
		return nil, transport.ErrBlocked
	}
	n := min(max, len(h.buf))
	if chunk := c.l.opts[c.side].ReadChunk; chunk > 0 {
		n = min(n, chunk)
	}
	out := make([]byte, n)
	copy(out, h.buf[:n])
	h.buf = h.buf[n:]
	c.l.received[c.side] += n
	return out, nil
}

func (c *Conn) WriteSendStream(id transport.StreamID, data []byte) (int, error) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.check(); err != nil {
		return 0, err
	}
	h, err := c.sendHalf(id)
	if err != nil {
		return 0, err
	}
	if h.finished || h.reset {
		return 0, fmt.Errorf("%w: %d", ErrStreamClosed, id)
	}
	n := len(data)
	if window := c.l.opts[c.side].SendWindow; window > 0 {
		n = min(n, max(window-len(h.buf), 0))
	}
	h.buf = append(h.buf, data[:n]...)
	return n, nil
}

func (c *Conn) FinishSendStream(id transport.StreamID) error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	h, err := c.sendHalf(id)
	if err != nil {
		return err
	}
	h.finished = true
	return nil
}

func (c *Conn) ResetSendStream(id transport.StreamID, code uint64) error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	h, err := c.sendHalf(id)
	if err != nil {
		return err
	}
	h.reset = true
	h.code = code
	h.buf = nil
	return nil
}

func (c *Conn) CloseWithError(code uint64, reason string) error {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if c.l.closed {
		return nil
	}
	c.l.closed = true
	c.l.code = code
	c.l.reason = reason
	return nil
}
