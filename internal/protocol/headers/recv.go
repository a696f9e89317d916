package headers

import (
	"errors"
	"io"

	"github.com/danmuck/msgwire/internal/observability"
	"github.com/danmuck/msgwire/internal/protocol"
	"github.com/danmuck/msgwire/internal/protocol/frame"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/rs/zerolog"
)

type streamState struct {
	dir        transport.Direction
	acc        frame.Accumulator
	classified bool
	purpose    protocol.Purpose
	seq        uint64
}

// RecvStreamHeaders tracks every stream a peer opened until its purpose
// header is read, then holds it until a consumer claims that purpose.
type RecvStreamHeaders struct {
	streams map[transport.StreamID]*streamState
	seq     uint64
}

func NewRecvStreamHeaders() *RecvStreamHeaders {
	return &RecvStreamHeaders{streams: make(map[transport.StreamID]*streamState)}
}

// Read accepts new streams and advances every unclassified one as far as
// the transport allows without blocking. Only transport faults are returned.
func (h *RecvStreamHeaders) Read(conn transport.Conn, log zerolog.Logger) error {
	for _, dir := range transport.Directions {
		for {
			id, ok := conn.AcceptStream(dir)
			if !ok {
				break
			}
			h.seq++
			h.streams[id] = &streamState{dir: dir, seq: h.seq}
			observability.RecordStreamAccepted(dir.String())
		}
	}

	var failed []transport.StreamID
	for id, st := range h.streams {
		if st.classified {
			continue
		}
		drop, err := readHeader(conn, id, st, log)
		if err != nil {
			return err
		}
		if drop {
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		delete(h.streams, id)
	}
	return nil
}

func readHeader(conn transport.Conn, id transport.StreamID, st *streamState, log zerolog.Logger) (bool, error) {
	for {
		data, err := conn.ReadRecvStream(id, st.acc.Need(), true)
		if err == nil && len(data) == 0 {
			err = transport.ErrBlocked
		}
		switch {
		case err == nil:
			st.acc.Write(data)
			v, ok := st.acc.Value()
			if !ok {
				continue
			}
			st.classified = true
			st.purpose = protocol.Purpose(v)
			observability.RecordStreamClassified(st.purpose.String())
			log.Debug().
				Uint64("stream", uint64(id)).
				Stringer("direction", st.dir).
				Stringer("purpose", st.purpose).
				Msg("stream classified")
			return false, nil
		case errors.Is(err, transport.ErrBlocked):
			return false, nil
		case errors.Is(err, io.EOF):
			observability.RecordStreamAbandoned("header", "finished")
			log.Warn().
				Uint64("stream", uint64(id)).
				Int("header_bytes", protocol.HeaderLen-st.acc.Need()).
				Msg("stream finished before sending a header")
			return true, nil
		default:
			if code, ok := transport.IsReset(err); ok {
				observability.RecordStreamAbandoned("header", "reset")
				log.Warn().
					Uint64("stream", uint64(id)).
					Uint64("code", code).
					Msg("stream reset before sending a header")
				return true, nil
			}
			return false, err
		}
	}
}

// TakeStream removes and returns the oldest classified stream carrying
// purpose p.
func (h *RecvStreamHeaders) TakeStream(p protocol.Purpose) (transport.StreamID, transport.Direction, bool) {
	var (
		found  bool
		bestID transport.StreamID
		best   *streamState
	)
	for id, st := range h.streams {
		if !st.classified || st.purpose != p {
			continue
		}
		if !found || st.seq < best.seq {
			found, bestID, best = true, id, st
		}
	}
	if !found {
		return 0, 0, false
	}
	delete(h.streams, bestID)
	return bestID, best.dir, true
}

// Pending returns how many streams are still waiting on header bytes.
func (h *RecvStreamHeaders) Pending() int {
	n := 0
	for _, st := range h.streams {
		if !st.classified {
			n++
		}
	}
	return n
}

// Classified returns how many classified streams are unclaimed.
func (h *RecvStreamHeaders) Classified() int {
	return len(h.streams) - h.Pending()
}
