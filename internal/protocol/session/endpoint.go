package session

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/danmuck/msgwire/internal/observability"
	"github.com/danmuck/msgwire/internal/protocol/messages"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/rs/zerolog"
)

// Application error code sent when a connection is dropped after a fault.
const CloseCodeTransportFault uint64 = 1

type Options struct {
	Logger zerolog.Logger
}

// Endpoint holds the protocol state of every attached connection.
type Endpoint struct {
	reg *messages.Registry
	log zerolog.Logger

	mu    sync.Mutex
	conns map[transport.ConnID]*Conn
}

// NewEndpoint seals reg; every peer type must be registered beforehand.
func NewEndpoint(reg *messages.Registry, opts Options) *Endpoint {
	reg.Seal()
	return &Endpoint{
		reg:   reg,
		log:   opts.Logger,
		conns: make(map[transport.ConnID]*Conn),
	}
}

func (e *Endpoint) Registry() *messages.Registry {
	return e.reg
}

// Add attaches protocol state to conn. Adding a connection twice returns
// the existing state.
func (e *Endpoint) Add(conn transport.Conn) *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.conns[conn.ID()]; ok {
		return c
	}
	c := newConn(conn, e.reg, e.log)
	e.conns[conn.ID()] = c
	observability.RecordConnections(1)
	c.log.Info().Msg("connection attached")
	return c
}

// Remove drops the state for id and closes the connection.
func (e *Endpoint) Remove(id transport.ConnID) bool {
	c, ok := e.detach(id)
	if !ok {
		return false
	}
	_ = c.conn.CloseWithError(0, "closed")
	c.log.Info().Msg("connection removed")
	return true
}

func (e *Endpoint) detach(id transport.ConnID) (*Conn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[id]
	if !ok {
		return nil, false
	}
	delete(e.conns, id)
	observability.RecordConnections(-1)
	return c, true
}

func (e *Endpoint) Conn(id transport.ConnID) (*Conn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[id]
	return c, ok
}

func (e *Endpoint) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// IDs returns the attached connection ids in ascending order.
func (e *Endpoint) IDs() []transport.ConnID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]transport.ConnID, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Conns returns the attached connections in id order.
func (e *Endpoint) Conns() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Conn) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Tick runs one protocol pass over every connection: classify new
// streams, claim message streams, decode frames, route them into inboxes
// and flush send streams. A connection whose transport faults is dropped
// and closed without affecting the others. A connection the transport
// reports closed is dropped the same way. Every fault or closure is
// returned as a *ConnError.
func (e *Endpoint) Tick() error {
	var errs []error
	for _, c := range e.Conns() {
		err := c.tick()
		if err == nil {
			continue
		}
		if errors.Is(err, transport.ErrClosed) {
			c.log.Info().Err(err).Msg("connection closed, dropping")
			e.detach(c.ID())
		} else {
			observability.RecordConnectionFault()
			c.log.Error().Err(err).Msg("connection fault, dropping")
			if _, ok := e.detach(c.ID()); ok {
				_ = c.conn.CloseWithError(CloseCodeTransportFault, "transport fault")
			}
		}
		errs = append(errs, &ConnError{ID: c.ID(), Err: err})
	}
	return errors.Join(errs...)
}
