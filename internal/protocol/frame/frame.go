package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/msgwire/internal/protocol"
)

const (
	// HeaderLen is type_id (u16) followed by length (u16).
	HeaderLen     = 4
	MaxPayloadLen = protocol.MaxMessageLen
)

var ErrPayloadTooLarge = errors.New("frame: payload too large")

// Frame is one complete message on a messages stream.
type Frame struct {
	TypeID  uint16
	Payload []byte
}

// AppendFrame appends the framed payload to dst. Oversized payloads are
// rejected before dst is touched.
func AppendFrame(dst []byte, typeID uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadLen)
	}
	dst = binary.BigEndian.AppendUint16(dst, typeID)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...), nil
}
