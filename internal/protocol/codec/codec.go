// Package codec holds the serialization black boxes used for message
// payloads. Both peers must use the same codec.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec marshals message values to and from payload bytes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types and short names to codecs.
type Registry struct {
	byType map[string]Codec
	byName map[string]Codec
}

// NewRegistry returns a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[string]Codec),
		byName: make(map[string]Codec),
	}
	r.Register("cbor", CBOR())
	r.Register("json", JSON())
	r.Register("proto", Proto())
	return r
}

func (r *Registry) Register(name string, c Codec) {
	r.byType[c.ContentType()] = c
	r.byName[strings.ToLower(strings.TrimSpace(name))] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec {
	return r.byType[contentType]
}

// ByName resolves a short config name ("cbor", "json", "proto") or a
// content type.
func (r *Registry) ByName(name string) (Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := r.byName[key]; ok {
		return c, nil
	}
	if c, ok := r.byType[key]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownCodec, name, strings.Join(r.Names(), ", "))
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
