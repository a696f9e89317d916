package headers

import (
	"encoding/binary"

	"github.com/danmuck/msgwire/internal/protocol"
	"github.com/danmuck/msgwire/internal/transport"
)

// SendStream writes a purpose header before any data on an outgoing stream.
type SendStream struct {
	id     transport.StreamID
	header []byte
}

func NewSendStream(id transport.StreamID, p protocol.Purpose) *SendStream {
	return &SendStream{
		id:     id,
		header: binary.BigEndian.AppendUint16(make([]byte, 0, protocol.HeaderLen), uint16(p)),
	}
}

func (s *SendStream) StreamID() transport.StreamID {
	return s.id
}

// HeaderSent reports whether every header byte has been accepted.
func (s *SendStream) HeaderSent() bool {
	return len(s.header) == 0
}

// Write flushes any remaining header bytes, then writes as much of data as
// the transport accepts. It returns 0 while header bytes remain.
func (s *SendStream) Write(conn transport.Conn, data []byte) (int, error) {
	if len(s.header) > 0 {
		n, err := conn.WriteSendStream(s.id, s.header)
		if err != nil {
			return 0, err
		}
		s.header = s.header[n:]
		if len(s.header) > 0 {
			return 0, nil
		}
	}
	if len(data) == 0 {
		return 0, nil
	}
	return conn.WriteSendStream(s.id, data)
}
