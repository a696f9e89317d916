// Package quic adapts quic-go connections to the non-blocking
// transport.Conn view.
//
// Each accepted receive stream gets a reader goroutine filling a bounded
// buffer; each send stream gets a writer goroutine draining a bounded
// window. Protocol code only ever touches those buffers, so it never
// blocks on the network.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/msgwire/internal/transport"
	quicgo "github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownStream  = errors.New("quic: unknown stream")
	ErrStreamFinished = errors.New("quic: write on finished stream")
	ErrListenerClosed = errors.New("quic: listener closed")
)

// Options tunes the adapter and the underlying QUIC connection.
type Options struct {
	// SendWindow caps the bytes buffered per send stream.
	SendWindow int
	// RecvBuffer caps the bytes buffered per receive stream.
	RecvBuffer      int
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
	Logger          zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.SendWindow <= 0 {
		o.SendWindow = 64 * 1024
	}
	if o.RecvBuffer <= 0 {
		o.RecvBuffer = 256 * 1024
	}
	return o
}

func (o Options) quicConfig() *quicgo.Config {
	return &quicgo.Config{
		MaxIdleTimeout:  o.MaxIdleTimeout,
		KeepAlivePeriod: o.KeepAlivePeriod,
	}
}

// Listener accepts QUIC connections.
type Listener struct {
	l    *quicgo.Listener
	opts Options
}

// Listen starts a QUIC listener on addr. tlsConf must carry a certificate
// and the ALPN both peers agree on.
func Listen(addr string, tlsConf *tls.Config, opts Options) (*Listener, error) {
	opts = opts.withDefaults()
	l, err := quicgo.ListenAddr(addr, tlsConf, opts.quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{l: l, opts: opts}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Accept blocks until a peer connects or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	qc, err := l.l.Accept(ctx)
	if err != nil {
		if errors.Is(err, quicgo.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return newConn(qc, l.opts), nil
}

func (l *Listener) Close() error {
	return l.l.Close()
}

// Dial connects to a QUIC listener.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	qc, err := quicgo.DialAddr(ctx, addr, tlsConf, opts.quicConfig())
	if err != nil {
		return nil, err
	}
	return newConn(qc, opts), nil
}

// Conn is a transport.Conn over one QUIC connection.
type Conn struct {
	id     transport.ConnID
	qc     quicgo.Connection
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	accepted [2][]transport.StreamID
	recv     map[transport.StreamID]*recvStream
	send     map[transport.StreamID]*sendStream
	err      error
}

func newConn(qc quicgo.Connection, opts Options) *Conn {
	ctx, cancel := context.WithCancel(qc.Context())
	c := &Conn{
		id:     transport.NextConnID(),
		qc:     qc,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		recv:   make(map[transport.StreamID]*recvStream),
		send:   make(map[transport.StreamID]*sendStream),
	}
	c.log = opts.Logger.With().
		Uint64("conn", uint64(c.id)).
		Str("remote", qc.RemoteAddr().String()).
		Logger()
	go c.acceptUni()
	go c.acceptBi()
	go func() {
		<-ctx.Done()
		c.closed(context.Cause(qc.Context()))
		c.stopStreams()
	}()
	return c
}

// stopStreams releases stream goroutines parked on a full or empty buffer.
func (c *Conn) stopStreams() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.recv {
		r.stop()
	}
	for _, s := range c.send {
		s.stop()
	}
}

func (c *Conn) ID() transport.ConnID { return c.id }

func (c *Conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// closed records why the connection ended. Accept only fails once the
// connection is gone, so accept errors land here too.
func (c *Conn) closed(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if cause == nil {
		cause = context.Cause(c.ctx)
	}
	c.err = fmt.Errorf("%w: %w", transport.ErrClosed, cause)
}

func (c *Conn) Err() error {
	return c.fault()
}

func (c *Conn) fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) acceptUni() {
	for {
		rs, err := c.qc.AcceptUniStream(c.ctx)
		if err != nil {
			c.closed(err)
			return
		}
		id := transport.StreamID(rs.StreamID())
		r := newRecvStream(rs, c.opts.RecvBuffer)
		c.mu.Lock()
		c.recv[id] = r
		c.accepted[transport.Uni] = append(c.accepted[transport.Uni], id)
		c.mu.Unlock()
		go r.run()
	}
}

func (c *Conn) acceptBi() {
	for {
		st, err := c.qc.AcceptStream(c.ctx)
		if err != nil {
			c.closed(err)
			return
		}
		id := transport.StreamID(st.StreamID())
		r := newRecvStream(st, c.opts.RecvBuffer)
		s := newSendStream(st, c.opts.SendWindow)
		c.mu.Lock()
		c.recv[id] = r
		c.send[id] = s
		c.accepted[transport.Bi] = append(c.accepted[transport.Bi], id)
		c.mu.Unlock()
		go r.run()
		go s.run()
	}
}

func (c *Conn) AcceptStream(dir transport.Direction) (transport.StreamID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.accepted[dir]
	if len(q) == 0 {
		return 0, false
	}
	c.accepted[dir] = q[1:]
	return q[0], true
}

func (c *Conn) OpenStream(dir transport.Direction) (transport.StreamID, error) {
	if err := c.fault(); err != nil {
		return 0, err
	}
	switch dir {
	case transport.Uni:
		qs, err := c.qc.OpenUniStream()
		if err != nil {
			return 0, err
		}
		id := transport.StreamID(qs.StreamID())
		s := newSendStream(qs, c.opts.SendWindow)
		c.mu.Lock()
		c.send[id] = s
		c.mu.Unlock()
		go s.run()
		return id, nil
	case transport.Bi:
		qs, err := c.qc.OpenStream()
		if err != nil {
			return 0, err
		}
		id := transport.StreamID(qs.StreamID())
		r := newRecvStream(qs, c.opts.RecvBuffer)
		s := newSendStream(qs, c.opts.SendWindow)
		c.mu.Lock()
		c.recv[id] = r
		c.send[id] = s
		c.mu.Unlock()
		go r.run()
		go s.run()
		return id, nil
	default:
		return 0, fmt.Errorf("quic: unsupported direction %v", dir)
	}
}

func (c *Conn) recvStream(id transport.StreamID) (*recvStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	r, ok := c.recv[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	return r, nil
}

func (c *Conn) sendStream(id transport.StreamID) (*sendStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s, ok := c.send[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	return s, nil
}

func (c *Conn) ReadRecvStream(id transport.StreamID, max int, allowPartial bool) ([]byte, error) {
	r, err := c.recvStream(id)
	if err != nil {
		return nil, err
	}
	data, done, err := r.read(max, allowPartial)
	if done {
		c.mu.Lock()
		delete(c.recv, id)
		c.mu.Unlock()
	}
	return data, err
}

func (c *Conn) WriteSendStream(id transport.StreamID, data []byte) (int, error) {
	s, err := c.sendStream(id)
	if err != nil {
		return 0, err
	}
	return s.write(data)
}

func (c *Conn) FinishSendStream(id transport.StreamID) error {
	s, err := c.sendStream(id)
	if err != nil {
		return err
	}
	s.finish()
	return nil
}

func (c *Conn) ResetSendStream(id transport.StreamID, code uint64) error {
	s, err := c.sendStream(id)
	if err != nil {
		return err
	}
	s.reset(code)
	c.mu.Lock()
	delete(c.send, id)
	c.mu.Unlock()
	return nil
}

func (c *Conn) CloseWithError(code uint64, reason string) error {
	c.cancel()
	c.log.Debug().Uint64("code", code).Str("reason", reason).Msg("closing quic connection")
	return c.qc.CloseWithError(quicgo.ApplicationErrorCode(code), reason)
}
