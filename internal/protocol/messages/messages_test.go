package messages

import (
	"bytes"
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/msgwire/internal/protocol"
	"github.com/danmuck/msgwire/internal/protocol/codec"
	"github.com/danmuck/msgwire/internal/protocol/headers"
	"github.com/danmuck/msgwire/internal/testutil/testlog"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/danmuck/msgwire/internal/transport/mem"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"
)

type textMsg struct {
	Text string `json:"text" cbor:"text"`
}

type blobMsg struct {
	Data []int `json:"data" cbor:"data"`
}

type receiver struct {
	conn    *mem.Conn
	headers *headers.RecvStreamHeaders
	bufs    *RecvBuffers
	inboxes *Inboxes
	reg     *Registry
	log     zerolog.Logger
}

func newReceiver(conn *mem.Conn, reg *Registry, log zerolog.Logger) *receiver {
	return &receiver{
		conn:    conn,
		headers: headers.NewRecvStreamHeaders(),
		bufs:    NewRecvBuffers(),
		inboxes: NewInboxes(),
		reg:     reg,
		log:     log,
	}
}

func (r *receiver) tick(t *testing.T) {
	t.Helper()
	if err := r.headers.Read(r.conn, r.log); err != nil {
		t.Fatalf("read headers: %v", err)
	}
	r.bufs.TakeStreams(r.headers, r.log)
	if err := r.bufs.Read(r.conn, r.log); err != nil {
		t.Fatalf("read messages: %v", err)
	}
	r.reg.Route(r.bufs, r.inboxes, r.log)
}

func testRegistry(t *testing.T, c codec.Codec) (*Registry, ID[textMsg], ID[blobMsg]) {
	t.Helper()
	reg := NewRegistry(c)
	text := MustRegister[textMsg](reg)
	blob := MustRegister[blobMsg](reg)
	reg.Seal()
	return reg, text, blob
}

func openSendStream(t *testing.T, conn transport.Conn) *SendStream {
	t.Helper()
	id, err := conn.OpenStream(transport.Uni)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	s := NewSendStream(id)
	if err := s.Flush(conn); err != nil {
		t.Fatalf("flush header: %v", err)
	}
	return s
}

func TestRegistryAssignsSequentialIDs(t *testing.T) {
	testlog.Start(t)
	reg, text, blob := testRegistry(t, codec.JSON())
	if text.Uint16() != 0 || blob.Uint16() != 1 || reg.Len() != 2 {
		t.Fatalf("ids text=%d blob=%d len=%d", text.Uint16(), blob.Uint16(), reg.Len())
	}
	if !text.Valid() || (ID[textMsg]{}).Valid() {
		t.Fatalf("validity mismatch")
	}
	if got := reg.Name(1); got != "messages.blobMsg" {
		t.Fatalf("name=%q", got)
	}
	if reg.Name(5) != "" {
		t.Fatalf("unregistered id has a name")
	}
	if id, ok := reg.Lookup(reflect.TypeFor[textMsg]()); !ok || id != 0 {
		t.Fatalf("lookup id=%d ok=%v", id, ok)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "messages.textMsg" {
		t.Fatalf("names=%v", names)
	}
}

func TestRegistryRejectsDuplicatesAndLateRegistration(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(codec.JSON())
	MustRegister[textMsg](reg)
	if _, err := Register[textMsg](reg); !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("expected ErrDuplicateType, got %v", err)
	}
	reg.Seal()
	if !reg.Sealed() {
		t.Fatalf("registry not sealed")
	}
	if _, err := Register[blobMsg](reg); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestSendReceiveInOrderPerType(t *testing.T) {
	testlog.Start(t)
	for _, c := range []codec.Codec{codec.JSON(), codec.CBOR()} {
		t.Run(c.ContentType(), func(t *testing.T) {
			reg, text, blob := testRegistry(t, c)
			a, b := mem.Pipe(mem.Options{})
			s := openSendStream(t, a)

			if ok, err := Send(s, a, text, textMsg{Text: "x"}, false); !ok || err != nil {
				t.Fatalf("send x: ok=%v err=%v", ok, err)
			}
			if ok, err := Send(s, a, blob, blobMsg{Data: []int{1, 2, 3}}, false); !ok || err != nil {
				t.Fatalf("send blob: ok=%v err=%v", ok, err)
			}
			if ok, err := Send(s, a, text, textMsg{Text: "y"}, false); !ok || err != nil {
				t.Fatalf("send y: ok=%v err=%v", ok, err)
			}

			r := newReceiver(b, reg, zerolog.Nop())
			r.tick(t)

			texts := InboxOf(r.inboxes, text).Drain()
			if len(texts) != 2 || texts[0].Text != "x" || texts[1].Text != "y" {
				t.Fatalf("text inbox %+v", texts)
			}
			blobs := InboxOf(r.inboxes, blob)
			got, ok := blobs.Next()
			if !ok || !reflect.DeepEqual(got.Data, []int{1, 2, 3}) {
				t.Fatalf("blob inbox %+v ok=%v", got, ok)
			}
			if _, ok := blobs.Next(); ok || blobs.Len() != 0 {
				t.Fatalf("blob inbox not empty")
			}
		})
	}
}

func TestReceiveIsChunkingInvariant(t *testing.T) {
	testlog.Start(t)
	reg, text, _ := testRegistry(t, codec.CBOR())
	want := make([]string, 40)
	for i := range want {
		want[i] = strings.Repeat(string(rune('a'+i%26)), i*7)
	}

	rng := rand.New(rand.NewSource(7))
	for _, chunk := range []int{0, 1, 3} {
		a, b := mem.Pipe(mem.Options{ReadChunk: chunk})
		s := openSendStream(t, a)
		for _, w := range want {
			if _, err := Send(s, a, text, textMsg{Text: w}, true); err != nil {
				t.Fatalf("send: %v", err)
			}
		}
		r := newReceiver(b, reg, zerolog.Nop())
		inbox := InboxOf(r.inboxes, text)
		var got []string
		for i := 0; i < 100000 && len(got) < len(want); i++ {
			if chunk == 3 {
				b.SetOptions(mem.Options{ReadChunk: 1 + rng.Intn(9)})
			}
			r.tick(t)
			for _, m := range inbox.Drain() {
				got = append(got, m.Text)
			}
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk=%d: got %d messages", chunk, len(got))
		}
	}
}

func TestSendGatesOnCongestion(t *testing.T) {
	testlog.Start(t)
	_, text, _ := testRegistry(t, codec.JSON())
	a, b := mem.Pipe(mem.Options{SendWindow: 8})
	id, _ := a.OpenStream(transport.Uni)
	s := NewSendStream(id)

	if s.Uncongested() {
		t.Fatalf("stream uncongested before its header was sent")
	}
	if ok, err := Send(s, a, text, textMsg{Text: "early"}, false); ok || err != nil {
		t.Fatalf("send before header: ok=%v err=%v", ok, err)
	}
	if s.Buffered() != 0 {
		t.Fatalf("refused send buffered %d bytes", s.Buffered())
	}
	if err := s.Flush(a); err != nil || !s.Uncongested() {
		t.Fatalf("header flush: err=%v uncongested=%v", err, s.Uncongested())
	}

	ok, err := Send(s, a, text, textMsg{Text: "a long message that overflows the window"}, false)
	if !ok || err != nil {
		t.Fatalf("first send: ok=%v err=%v", ok, err)
	}
	if s.Uncongested() {
		t.Fatalf("expected congestion with a small window")
	}
	if ok, _ := Send(s, a, text, textMsg{Text: "refused"}, false); ok {
		t.Fatalf("congested stream accepted a non-queued send")
	}
	before := s.Buffered()
	if ok, err := Send(s, a, text, textMsg{Text: "queued"}, true); !ok || err != nil {
		t.Fatalf("queued send: ok=%v err=%v", ok, err)
	}
	if s.Buffered() <= before {
		t.Fatalf("queued send did not grow the buffer")
	}

	for i := 0; i < 1000 && !s.Uncongested(); i++ {
		if _, err := b.ReadRecvStream(s.StreamID(), 64, true); err != nil && !errors.Is(err, transport.ErrBlocked) {
			t.Fatalf("drain: %v", err)
		}
		if err := s.Flush(a); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}
	if !s.Uncongested() {
		t.Fatalf("stream never drained")
	}
}

func TestPayloadLengthBoundaries(t *testing.T) {
	testlog.Start(t)
	a, b := mem.Pipe(mem.Options{})
	reg := NewRegistry(codec.JSON())
	reg.Seal()
	s := openSendStream(t, a)

	if ok, err := s.SendRaw(a, 3, nil, true); !ok || err != nil {
		t.Fatalf("empty payload: ok=%v err=%v", ok, err)
	}
	if ok, err := s.SendRaw(a, 3, make([]byte, protocol.MaxMessageLen), true); !ok || err != nil {
		t.Fatalf("max payload: ok=%v err=%v", ok, err)
	}
	ok, err := s.SendRaw(a, 3, make([]byte, protocol.MaxMessageLen+1), true)
	if ok || !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Fatalf("oversized payload: ok=%v err=%v", ok, err)
	}
	if s.Buffered() != 0 {
		t.Fatalf("rejected payload left %d bytes buffered", s.Buffered())
	}

	r := newReceiver(b, reg, zerolog.Nop())
	if err := r.headers.Read(b, r.log); err != nil {
		t.Fatalf("headers: %v", err)
	}
	r.bufs.TakeStreams(r.headers, r.log)
	if err := r.bufs.Read(b, r.log); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.bufs.RawLen(3) != 2 {
		t.Fatalf("raw queue len=%d", r.bufs.RawLen(3))
	}
	payloads := r.bufs.DrainRaw(3)
	if len(payloads[0]) != 0 || len(payloads[1]) != protocol.MaxMessageLen {
		t.Fatalf("payload sizes %d %d", len(payloads[0]), len(payloads[1]))
	}
}

func TestOversizedTypedMessageIsRejected(t *testing.T) {
	testlog.Start(t)
	_, text, _ := testRegistry(t, codec.JSON())
	a, _ := mem.Pipe(mem.Options{})
	s := openSendStream(t, a)
	ok, err := Send(s, a, text, textMsg{Text: strings.Repeat("z", protocol.MaxMessageLen)}, true)
	if ok || !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got ok=%v err=%v", ok, err)
	}
	if !strings.Contains(err.Error(), "messages.textMsg") {
		t.Fatalf("error does not name the type: %v", err)
	}
}

func TestStreamResetMidFrameKeepsOtherStreams(t *testing.T) {
	testlog.Start(t)
	for _, cut := range []int{1, 3, 6} {
		reg, text, _ := testRegistry(t, codec.JSON())
		a, b := mem.Pipe(mem.Options{})
		var logs bytes.Buffer
		r := newReceiver(b, reg, zerolog.New(&logs))

		broken, _ := a.OpenStream(transport.Uni)
		framed := append([]byte{0, 0}, []byte{0, 0, 0, 4, 'a', 'b', 'c', 'd'}...)
		_, _ = a.WriteSendStream(broken, framed[:2+cut])

		healthy := openSendStream(t, a)
		r.tick(t)
		if r.bufs.Streams() != 2 {
			t.Fatalf("cut=%d: streams=%d", cut, r.bufs.Streams())
		}

		_ = a.ResetSendStream(broken, 9)
		if _, err := Send(healthy, a, text, textMsg{Text: "still here"}, false); err != nil {
			t.Fatalf("send: %v", err)
		}
		r.tick(t)
		if r.bufs.Streams() != 1 {
			t.Fatalf("cut=%d: reset stream not removed", cut)
		}
		if got, ok := InboxOf(r.inboxes, text).Next(); !ok || got.Text != "still here" {
			t.Fatalf("cut=%d: healthy stream lost its message", cut)
		}
		if !strings.Contains(logs.String(), "message stream reset") {
			t.Fatalf("cut=%d: reset not logged: %s", cut, logs.String())
		}
	}
}

func TestFinishedStreamIsRemoved(t *testing.T) {
	testlog.Start(t)
	reg, text, _ := testRegistry(t, codec.JSON())
	a, b := mem.Pipe(mem.Options{})
	s := openSendStream(t, a)
	if _, err := Send(s, a, text, textMsg{Text: "last"}, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = a.FinishSendStream(s.StreamID())

	r := newReceiver(b, reg, zerolog.Nop())
	r.tick(t)
	if r.bufs.Streams() != 0 {
		t.Fatalf("finished stream still tracked")
	}
	if got, ok := InboxOf(r.inboxes, text).Next(); !ok || got.Text != "last" {
		t.Fatalf("final message lost")
	}
}

func TestDecodeFailureAndUnknownTypeAreDropped(t *testing.T) {
	testlog.Start(t)
	reg, text, _ := testRegistry(t, codec.JSON())
	a, b := mem.Pipe(mem.Options{})
	s := openSendStream(t, a)
	_, _ = s.SendRaw(a, text.Uint16(), []byte("{not json"), false)
	_, _ = s.SendRaw(a, 42, []byte("mystery"), true)
	_, _ = Send(s, a, text, textMsg{Text: "ok"}, true)

	var logs bytes.Buffer
	r := newReceiver(b, reg, zerolog.New(&logs))
	r.tick(t)

	got := InboxOf(r.inboxes, text).Drain()
	if len(got) != 1 || got[0].Text != "ok" {
		t.Fatalf("inbox %+v", got)
	}
	if r.bufs.RawLen(42) != 0 {
		t.Fatalf("unknown payload kept")
	}
	out := logs.String()
	if !strings.Contains(out, "failed to decode message") || !strings.Contains(out, "unregistered type id") {
		t.Fatalf("missing diagnostics: %s", out)
	}
}

func TestTransportFaultStopsRead(t *testing.T) {
	testlog.Start(t)
	reg, _, _ := testRegistry(t, codec.JSON())
	a, b := mem.Pipe(mem.Options{})
	openSendStream(t, a)
	r := newReceiver(b, reg, zerolog.Nop())
	r.tick(t)

	boom := errors.New("boom")
	b.Fail(boom)
	if err := r.bufs.Read(b, r.log); !errors.Is(err, boom) {
		t.Fatalf("expected fault, got %v", err)
	}
}

func TestProtoCodecPointerMessages(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(codec.Proto())
	id := MustRegister[*structpb.Struct](reg)
	reg.Seal()
	a, b := mem.Pipe(mem.Options{})
	s := openSendStream(t, a)

	msg, err := structpb.NewStruct(map[string]any{"op": "ping", "seq": 3})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	if ok, err := Send(s, a, id, msg, false); !ok || err != nil {
		t.Fatalf("send: ok=%v err=%v", ok, err)
	}
	r := newReceiver(b, reg, zerolog.Nop())
	r.tick(t)
	got, ok := InboxOf(r.inboxes, id).Next()
	if !ok || got.Fields["op"].GetStringValue() != "ping" || got.Fields["seq"].GetNumberValue() != 3 {
		t.Fatalf("proto message %v ok=%v", got, ok)
	}
}

func TestBidirectionalMessageStreamIsAccepted(t *testing.T) {
	testlog.Start(t)
	reg, text, _ := testRegistry(t, codec.JSON())
	a, b := mem.Pipe(mem.Options{})
	id, _ := a.OpenStream(transport.Bi)
	s := NewSendStream(id)
	if _, err := Send(s, a, text, textMsg{Text: "bi"}, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	var logs bytes.Buffer
	r := newReceiver(b, reg, zerolog.New(&logs))
	r.tick(t)
	if got, ok := InboxOf(r.inboxes, text).Next(); !ok || got.Text != "bi" {
		t.Fatalf("bi stream message lost")
	}
	if !strings.Contains(logs.String(), "bidirectional") {
		t.Fatalf("bi stream not flagged: %s", logs.String())
	}
}

func TestInboxOfTypeMismatchPanics(t *testing.T) {
	testlog.Start(t)
	reg, text, _ := testRegistry(t, codec.JSON())
	in := NewInboxes()
	InboxOf(in, text)
	other := ID[blobMsg]{id: text.Uint16(), reg: reg}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on inbox type mismatch")
		}
	}()
	InboxOf(in, other)
}
