package mem

import (
	"errors"
	"io"
	"testing"

	"github.com/danmuck/msgwire/internal/testutil/testlog"
	"github.com/danmuck/msgwire/internal/transport"
)

func TestUniStreamDeliversInOrderThenEOF(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(Options{})
	id, err := a.OpenStream(transport.Uni)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := a.WriteSendStream(id, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.FinishSendStream(id); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, ok := b.AcceptStream(transport.Uni)
	if !ok || got != id {
		t.Fatalf("accept: ok=%v id=%d want=%d", ok, got, id)
	}
	if _, ok := b.AcceptStream(transport.Bi); ok {
		t.Fatalf("unexpected bi stream")
	}
	data, err := b.ReadRecvStream(id, 3, true)
	if err != nil || string(data) != "hel" {
		t.Fatalf("read 1: %q %v", data, err)
	}
	data, err = b.ReadRecvStream(id, 10, true)
	if err != nil || string(data) != "lo" {
		t.Fatalf("read 2: %q %v", data, err)
	}
	if _, err := b.ReadRecvStream(id, 10, true); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadBlockedAndReset(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(Options{})
	id, _ := a.OpenStream(transport.Uni)
	b.AcceptStream(transport.Uni)
	if _, err := b.ReadRecvStream(id, 2, true); !errors.Is(err, transport.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	_ = a.ResetSendStream(id, 7)
	_, err := b.ReadRecvStream(id, 2, true)
	code, ok := transport.IsReset(err)
	if !ok || code != 7 {
		t.Fatalf("expected reset code 7, got %v", err)
	}
}

func TestSendWindowAndReadChunk(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(Options{SendWindow: 4, ReadChunk: 1})
	id, _ := a.OpenStream(transport.Uni)
	n, err := a.WriteSendStream(id, []byte("abcdef"))
	if err != nil || n != 4 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if n, _ := a.WriteSendStream(id, []byte("x")); n != 0 {
		t.Fatalf("expected full window, wrote %d", n)
	}
	data, err := b.ReadRecvStream(id, 4, true)
	if err != nil || len(data) != 1 {
		t.Fatalf("read chunk: %q %v", data, err)
	}
	if a.Unread(id) != 3 {
		t.Fatalf("unread=%d", a.Unread(id))
	}
	if n, _ := a.WriteSendStream(id, []byte("xyz")); n != 1 {
		t.Fatalf("expected 1 byte of room, wrote %d", n)
	}
}

func TestBiStreamBothWays(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(Options{})
	id, _ := a.OpenStream(transport.Bi)
	if got, ok := b.AcceptStream(transport.Bi); !ok || got != id {
		t.Fatalf("accept bi: ok=%v", ok)
	}
	_, _ = b.WriteSendStream(id, []byte{1})
	data, err := a.ReadRecvStream(id, 1, true)
	if err != nil || len(data) != 1 || data[0] != 1 {
		t.Fatalf("reverse read: %v %v", data, err)
	}
}

func TestFaultAndClose(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(Options{})
	boom := errors.New("boom")
	a.Fail(boom)
	if _, err := a.OpenStream(transport.Uni); !errors.Is(err, boom) {
		t.Fatalf("expected fault, got %v", err)
	}
	_ = b.CloseWithError(3, "bye")
	if _, err := b.OpenStream(transport.Uni); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestErrReportsFaultAndClosure(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe(Options{})
	if a.Err() != nil || b.Err() != nil {
		t.Fatalf("fresh pipe reports an error")
	}
	_ = a.CloseWithError(0, "bye")
	if err := b.Err(); !errors.Is(err, transport.ErrClosed) || !errors.Is(err, ErrConnClosed) {
		t.Fatalf("peer does not see the closure: %v", err)
	}

	c, _ := Pipe(Options{})
	boom := errors.New("boom")
	c.Fail(boom)
	if err := c.Err(); !errors.Is(err, boom) || errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected fault, got %v", err)
	}
}
