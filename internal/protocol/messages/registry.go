package messages

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/danmuck/msgwire/internal/observability"
	"github.com/danmuck/msgwire/internal/protocol/codec"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateType  = errors.New("messages: type already registered")
	ErrRegistrySealed = errors.New("messages: registry sealed")
	ErrTooManyTypes   = errors.New("messages: type id space exhausted")
)

// ID is the wire identifier bound to message type T.
type ID[T any] struct {
	id  uint16
	reg *Registry
}

func (m ID[T]) Uint16() uint16 {
	return m.id
}

// Valid reports whether m came from Register.
func (m ID[T]) Valid() bool {
	return m.reg != nil
}

func (m ID[T]) Name() string {
	return m.reg.Name(m.id)
}

// Encode serializes v with the registry codec.
func (m ID[T]) Encode(v T) ([]byte, error) {
	return m.reg.codec.Marshal(v)
}

// Decode parses a payload of type T with the registry codec. Pointer types
// get a freshly allocated value.
func (m ID[T]) Decode(data []byte) (T, error) {
	return decode[T](m.reg.codec, data)
}

func decode[T any](c codec.Codec, data []byte) (T, error) {
	var v T
	target := any(&v)
	if rt := reflect.TypeFor[T](); rt.Kind() == reflect.Pointer {
		v = reflect.New(rt.Elem()).Interface().(T)
		target = v
	}
	err := c.Unmarshal(data, target)
	return v, err
}

type entry struct {
	name  string
	typ   reflect.Type
	route func(payloads [][]byte, in *Inboxes, log zerolog.Logger)
}

// Registry assigns sequential ids to message types in registration order.
// It is append-only; Seal freezes it once every type is known.
type Registry struct {
	mu      sync.RWMutex
	codec   codec.Codec
	entries []entry
	byType  map[reflect.Type]uint16
	sealed  bool
}

func NewRegistry(c codec.Codec) *Registry {
	return &Registry{
		codec:  c,
		byType: make(map[reflect.Type]uint16),
	}
}

// Register binds T to the next unused id, starting at 0.
func Register[T any](r *Registry) (ID[T], error) {
	typ := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ID[T]{}, fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, typ)
	}
	if id, ok := r.byType[typ]; ok {
		return ID[T]{}, fmt.Errorf("%w: %s has id %d", ErrDuplicateType, typ, id)
	}
	if len(r.entries) > math.MaxUint16 {
		return ID[T]{}, ErrTooManyTypes
	}

	mid := ID[T]{id: uint16(len(r.entries)), reg: r}
	name := typ.String()
	c := r.codec
	r.entries = append(r.entries, entry{
		name: name,
		typ:  typ,
		route: func(payloads [][]byte, in *Inboxes, log zerolog.Logger) {
			inbox := InboxOf(in, mid)
			for _, payload := range payloads {
				v, err := decode[T](c, payload)
				if err != nil {
					observability.RecordDecodeFailure(name)
					log.Error().
						Str("type", name).
						Int("bytes", len(payload)).
						Err(err).
						Msg("failed to decode message")
					continue
				}
				inbox.push(v)
				observability.RecordMessageRouted(name)
			}
		},
	})
	r.byType[typ] = mid.id
	return mid, nil
}

// MustRegister is Register for startup code where a failure is a bug.
func MustRegister[T any](r *Registry) ID[T] {
	id, err := Register[T](r)
	if err != nil {
		panic(err)
	}
	return id
}

// Seal stops further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Codec() codec.Codec {
	return r.codec
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Name returns the Go type name bound to id, or "" if unregistered.
func (r *Registry) Name(id uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.entries) {
		return ""
	}
	return r.entries[id].name
}

// Lookup returns the id bound to a type.
func (r *Registry) Lookup(typ reflect.Type) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[typ]
	return id, ok
}

// Names lists type names in id order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

// Route decodes every raw payload waiting in bufs into its typed inbox.
// Payloads whose id is not registered are dropped.
func (r *Registry) Route(bufs *RecvBuffers, in *Inboxes, log zerolog.Logger) {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	for id, e := range entries {
		payloads := bufs.DrainRaw(uint16(id))
		if len(payloads) == 0 {
			continue
		}
		e.route(payloads, in, log)
	}
	for id, n := range bufs.dropRaw() {
		observability.RecordUnknownFrames(n)
		log.Warn().
			Uint16("type_id", id).
			Int("dropped", n).
			Msg("dropping messages with unregistered type id")
	}
}
