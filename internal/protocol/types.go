package protocol

import "fmt"

// Purpose is the u16 tag written as the first 2 bytes of every stream.
type Purpose uint16

const (
	// PurposeMessages marks a stream carrying framed application messages.
	PurposeMessages Purpose = 0
)

const (
	// HeaderLen is the size of the stream purpose header.
	HeaderLen = 2
	// MaxMessageLen is the largest encoded message a frame can carry.
	MaxMessageLen = 1<<16 - 1
)

func (p Purpose) String() string {
	switch p {
	case PurposeMessages:
		return "messages"
	default:
		return fmt.Sprintf("purpose(%d)", uint16(p))
	}
}
