package quic

import (
	"errors"
	"io"
	"sync"

	"github.com/danmuck/msgwire/internal/transport"
	quicgo "github.com/quic-go/quic-go"
)

const readChunk = 16 * 1024

type recvStream struct {
	rs    quicgo.ReceiveStream
	limit int

	mu      sync.Mutex
	room    *sync.Cond
	buf     []byte
	err     error
	stopped bool
}

func newRecvStream(rs quicgo.ReceiveStream, limit int) *recvStream {
	r := &recvStream{rs: rs, limit: limit}
	r.room = sync.NewCond(&r.mu)
	return r
}

func (r *recvStream) run() {
	chunk := make([]byte, min(readChunk, r.limit))
	for {
		r.mu.Lock()
		for len(r.buf) >= r.limit && !r.stopped {
			r.room.Wait()
		}
		if r.stopped {
			r.mu.Unlock()
			return
		}
		want := min(len(chunk), r.limit-len(r.buf))
		r.mu.Unlock()

		n, err := r.rs.Read(chunk[:want])
		r.mu.Lock()
		r.buf = append(r.buf, chunk[:n]...)
		if err != nil {
			r.err = mapReadError(err)
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

// read returns buffered bytes, or the terminal outcome once the buffer is
// empty. done reports that the stream will produce nothing more.
func (r *recvStream) read(max int, allowPartial bool) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		if r.err != nil {
			return nil, true, r.err
		}
		return nil, false, transport.ErrBlocked
	}
	if !allowPartial && len(r.buf) < max && r.err == nil {
		return nil, false, transport.ErrBlocked
	}
	n := min(max, len(r.buf))
	out := make([]byte, n)
	copy(out, r.buf)
	r.buf = r.buf[n:]
	r.room.Signal()
	return out, false, nil
}

func (r *recvStream) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.room.Signal()
}

func mapReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var streamErr *quicgo.StreamError
	if errors.As(err, &streamErr) {
		return &transport.ResetError{Code: uint64(streamErr.ErrorCode)}
	}
	return err
}

type sendStream struct {
	ss     quicgo.SendStream
	window int

	mu       sync.Mutex
	wake     *sync.Cond
	buf      []byte
	finished bool
	closed   bool
	err      error
}

func newSendStream(ss quicgo.SendStream, window int) *sendStream {
	s := &sendStream{ss: ss, window: window}
	s.wake = sync.NewCond(&s.mu)
	return s
}

func (s *sendStream) run() {
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.finished && !s.closed {
			s.wake.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.buf) == 0 && s.finished {
			s.closed = true
			s.mu.Unlock()
			_ = s.ss.Close()
			return
		}
		chunk := append([]byte(nil), s.buf...)
		s.mu.Unlock()

		n, err := s.ss.Write(chunk)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.buf = s.buf[n:]
		if err != nil {
			s.err = err
			s.closed = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// write copies as much of data as the window has room for.
func (s *sendStream) write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.finished || s.closed {
		return 0, ErrStreamFinished
	}
	n := min(len(data), max(s.window-len(s.buf), 0))
	if n == 0 {
		return 0, nil
	}
	s.buf = append(s.buf, data[:n]...)
	s.wake.Signal()
	return n, nil
}

func (s *sendStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.wake.Signal()
}

func (s *sendStream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.wake.Signal()
}

func (s *sendStream) reset(code uint64) {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.wake.Signal()
	s.mu.Unlock()
	s.ss.CancelWrite(quicgo.StreamErrorCode(code))
}
