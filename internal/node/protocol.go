package node

import (
	"errors"
	"fmt"

	"github.com/danmuck/msgwire/internal/protocol/codec"
	"github.com/danmuck/msgwire/internal/protocol/messages"
)

// ErrCodecUnsupported reports a codec that cannot carry the node messages.
var ErrCodecUnsupported = errors.New("node: codec cannot carry node messages")

type Ping struct {
	Message string `json:"message" cbor:"message"`
}

type Pong struct {
	Message string `json:"message" cbor:"message"`
}

// Protocol is the registered message set shared by servers and clients.
type Protocol struct {
	Registry *messages.Registry
	Ping     messages.ID[Ping]
	Pong     messages.ID[Pong]
}

// BuildProtocol registers the message types in wire order. Ping is id 0
// and Pong id 1; peers must agree on this order and on the codec.
func BuildProtocol(c codec.Codec) *Protocol {
	reg := messages.NewRegistry(c)
	return &Protocol{
		Registry: reg,
		Ping:     messages.MustRegister[Ping](reg),
		Pong:     messages.MustRegister[Pong](reg),
	}
}

// BuildProtocolNamed is BuildProtocol with the codec resolved by its short
// name or content type. Codecs that cannot round-trip Ping and Pong, such
// as "proto" which only carries proto.Message values, are rejected.
func BuildProtocolNamed(codecName string) (*Protocol, error) {
	c, err := codec.NewRegistry().ByName(codecName)
	if err != nil {
		return nil, err
	}
	p := BuildProtocol(c)
	if err := p.check(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCodecUnsupported, c.ContentType(), err)
	}
	return p, nil
}

func (p *Protocol) check() error {
	data, err := p.Ping.Encode(Ping{Message: "check"})
	if err != nil {
		return err
	}
	got, err := p.Ping.Decode(data)
	if err != nil {
		return err
	}
	if got.Message != "check" {
		return fmt.Errorf("ping decoded as %q", got.Message)
	}
	data, err = p.Pong.Encode(Pong{})
	if err != nil {
		return err
	}
	_, err = p.Pong.Decode(data)
	return err
}
