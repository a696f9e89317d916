package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/msgwire/internal/auth"
	"github.com/danmuck/msgwire/internal/observability"
	"github.com/danmuck/msgwire/internal/protocol/messages"
	"github.com/danmuck/msgwire/internal/protocol/session"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/danmuck/msgwire/internal/transport/quic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConnStatus is the admin view of one attached connection.
type ConnStatus struct {
	ID            uint64 `json:"id"`
	PendingHeader int    `json:"pending_header"`
	Decoding      int    `json:"decoding"`
	SendStreams   int    `json:"send_streams"`
	Buffered      int    `json:"buffered"`
}

// Server echoes every Ping it receives as a Pong on a per-connection reply
// stream.
type Server struct {
	cfg      Config
	proto    *Protocol
	ep       *session.Endpoint
	log      zerolog.Logger
	router   *gin.Engine
	appeared time.Time

	// Owned by the tick goroutine.
	replies map[transport.ConnID]*messages.SendStream

	pings  atomic.Uint64
	statMu sync.RWMutex
	stats  []ConnStatus
}

var _ Node = (*Server)(nil)

func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	proto, err := cfg.protocol()
	if err != nil {
		return nil, err
	}
	observability.RegisterMetrics()
	logger := log.Logger.With().Str("node", cfg.NodeID).Logger()
	s := &Server{
		cfg:      cfg,
		proto:    proto,
		ep:       session.NewEndpoint(proto.Registry, session.Options{Logger: logger}),
		log:      logger,
		appeared: time.Now(),
		replies:  make(map[transport.ConnID]*messages.SendStream),
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Server) NodeID() string {
	return s.cfg.NodeID
}

func (s *Server) Kind() string {
	return "server"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) Endpoint() *session.Endpoint {
	return s.ep
}

// Pings returns how many pings have been answered.
func (s *Server) Pings() uint64 {
	return s.pings.Load()
}

// Attach adds an already established connection.
func (s *Server) Attach(conn transport.Conn) {
	s.ep.Add(conn)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return err
	}
	l, err := quic.Listen(s.cfg.ListenAddr, tlsCfg, quicOptions(s.cfg.Session, s.log))
	if err != nil {
		return err
	}
	defer l.Close()
	s.log.Info().Str("addr", l.Addr().String()).Msg("listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, l)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve accepts connections from l and drives the protocol until ctx is
// done.
func (s *Server) Serve(ctx context.Context, l *quic.Listener) error {
	go s.acceptLoop(ctx, l)
	return s.Loop(ctx)
}

func (s *Server) acceptLoop(ctx context.Context, l *quic.Listener) {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, quic.ErrListenerClosed) {
				s.log.Error().Err(err).Msg("accept failed")
			}
			return
		}
		s.log.Info().
			Uint64("conn", uint64(conn.ID())).
			Str("remote", conn.RemoteAddr().String()).
			Msg("new connection")
		s.ep.Add(conn)
	}
}

// Loop runs the tick loop for attached connections until ctx is done.
func (s *Server) Loop(ctx context.Context) error {
	return TickLoop(ctx, s.cfg.TickInterval, s.log, s.Tick)
}

// Tick advances every connection once and answers the pings it produced.
func (s *Server) Tick() error {
	err := s.ep.Tick()
	conns := s.ep.Conns()
	live := make(map[transport.ConnID]struct{}, len(conns))
	stats := make([]ConnStatus, 0, len(conns))
	for _, c := range conns {
		live[c.ID()] = struct{}{}
		if replyErr := s.answer(c); replyErr != nil {
			s.log.Error().Uint64("conn", uint64(c.ID())).Err(replyErr).Msg("reply failed, dropping")
			s.ep.Remove(c.ID())
			err = errors.Join(err, &session.ConnError{ID: c.ID(), Err: replyErr})
			continue
		}
		pending, decoding := c.Streams()
		stats = append(stats, ConnStatus{
			ID:            uint64(c.ID()),
			PendingHeader: pending,
			Decoding:      decoding,
			SendStreams:   len(c.SendStreams()),
			Buffered:      c.Buffered(),
		})
	}
	for id := range s.replies {
		if _, ok := live[id]; !ok {
			delete(s.replies, id)
		}
	}
	s.statMu.Lock()
	s.stats = stats
	s.statMu.Unlock()
	return err
}

func (s *Server) answer(c *session.Conn) error {
	pings := session.Received(c, s.proto.Ping).Drain()
	if len(pings) == 0 {
		return nil
	}
	reply, ok := s.replies[c.ID()]
	if !ok {
		var err error
		if reply, err = c.OpenMessageStream(); err != nil {
			return err
		}
		s.replies[c.ID()] = reply
	}
	for _, p := range pings {
		s.log.Debug().Uint64("conn", uint64(c.ID())).Str("message", p.Message).Msg("ping")
		if _, err := session.Send(c, reply, s.proto.Pong, Pong{Message: p.Message}, true); err != nil {
			return err
		}
		s.pings.Add(1)
	}
	return nil
}

// Connections returns the admin view captured by the last Tick.
func (s *Server) Connections() []ConnStatus {
	s.statMu.RLock()
	defer s.statMu.RUnlock()
	out := make([]ConnStatus, len(s.stats))
	copy(out, s.stats)
	return out
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log, s.ep.Len))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.NodeID))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.appeared).String(),
			"node":   s.cfg.NodeID,
			"codec":  s.proto.Registry.Codec().ContentType(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	private := r.Group("/")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		private.Use(auth.RequireToken(auth.StaticToken{Token: token}))
	}
	private.GET("/connections", func(c *gin.Context) {
		conns := s.Connections()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(conns),
			"pings":       s.Pings(),
			"connections": conns,
		})
	})
	private.GET("/protocol", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"codec": s.proto.Registry.Codec().ContentType(),
			"types": s.proto.Registry.Names(),
		})
	})
	return r
}

func (s *Server) serveAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
