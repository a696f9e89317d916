package messages

import (
	"errors"
	"io"

	"github.com/danmuck/msgwire/internal/observability"
	"github.com/danmuck/msgwire/internal/protocol"
	"github.com/danmuck/msgwire/internal/protocol/frame"
	"github.com/danmuck/msgwire/internal/protocol/headers"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/rs/zerolog"
)

// RecvBuffers decodes frames from every claimed message stream of one
// connection into raw per-type queues.
type RecvBuffers struct {
	streams map[transport.StreamID]*frame.Decoder
	raw     map[uint16][][]byte
}

func NewRecvBuffers() *RecvBuffers {
	return &RecvBuffers{
		streams: make(map[transport.StreamID]*frame.Decoder),
		raw:     make(map[uint16][][]byte),
	}
}

// TakeStreams claims every classified message stream. Message streams are
// expected to be unidirectional; a bidirectional one is read anyway.
func (b *RecvBuffers) TakeStreams(h *headers.RecvStreamHeaders, log zerolog.Logger) int {
	n := 0
	for {
		id, dir, ok := h.TakeStream(protocol.PurposeMessages)
		if !ok {
			return n
		}
		if dir == transport.Bi {
			log.Warn().
				Uint64("stream", uint64(id)).
				Msg("peer opened a bidirectional message stream, expected unidirectional")
		}
		b.streams[id] = &frame.Decoder{}
		n++
	}
}

// Read pulls as many bytes as are available from every message stream and
// queues each completed frame. Finished or reset streams are removed after
// the pass; only transport faults are returned.
func (b *RecvBuffers) Read(conn transport.Conn, log zerolog.Logger) error {
	var finished []transport.StreamID
	for id, dec := range b.streams {
		done, err := b.readStream(conn, id, dec, log)
		if err != nil {
			return err
		}
		if done {
			finished = append(finished, id)
		}
	}
	for _, id := range finished {
		delete(b.streams, id)
	}
	return nil
}

func (b *RecvBuffers) readStream(conn transport.Conn, id transport.StreamID, dec *frame.Decoder, log zerolog.Logger) (bool, error) {
	for {
		data, err := conn.ReadRecvStream(id, dec.Need(), true)
		if err == nil && len(data) == 0 {
			err = transport.ErrBlocked
		}
		switch {
		case err == nil:
			for len(data) > 0 {
				n, f, ok := dec.Feed(data)
				data = data[n:]
				if ok {
					b.raw[f.TypeID] = append(b.raw[f.TypeID], f.Payload)
					observability.RecordFrameDecoded()
				}
			}
		case errors.Is(err, transport.ErrBlocked):
			return false, nil
		case errors.Is(err, io.EOF):
			if dec.InProgress() {
				observability.RecordStreamAbandoned("message", "finished")
				log.Debug().
					Uint64("stream", uint64(id)).
					Stringer("phase", dec.Phase()).
					Msg("message stream finished mid-frame, dropping partial message")
			}
			return true, nil
		default:
			if code, ok := transport.IsReset(err); ok {
				observability.RecordStreamAbandoned("message", "reset")
				log.Warn().
					Uint64("stream", uint64(id)).
					Uint64("code", code).
					Stringer("phase", dec.Phase()).
					Msg("message stream reset")
				return true, nil
			}
			return false, err
		}
	}
}

// Streams returns how many message streams are being decoded.
func (b *RecvBuffers) Streams() int {
	return len(b.streams)
}

// RawLen returns how many undecoded payloads are queued for id.
func (b *RecvBuffers) RawLen(id uint16) int {
	return len(b.raw[id])
}

// DrainRaw removes and returns the undecoded payloads queued for id.
func (b *RecvBuffers) DrainRaw(id uint16) [][]byte {
	out := b.raw[id]
	delete(b.raw, id)
	return out
}

func (b *RecvBuffers) dropRaw() map[uint16]int {
	if len(b.raw) == 0 {
		return nil
	}
	dropped := make(map[uint16]int, len(b.raw))
	for id, payloads := range b.raw {
		dropped[id] = len(payloads)
	}
	clear(b.raw)
	return dropped
}
