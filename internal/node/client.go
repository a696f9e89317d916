package node

import (
	"context"
	"math/rand"
	"time"

	"github.com/danmuck/msgwire/internal/protocol/messages"
	"github.com/danmuck/msgwire/internal/protocol/session"
	"github.com/danmuck/msgwire/internal/transport"
	"github.com/danmuck/msgwire/internal/transport/quic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialer opens one transport connection to the server.
type Dialer func(ctx context.Context) (transport.Conn, error)

// QUICDialer dials cfg.ServerAddr with the session TLS settings.
func QUICDialer(cfg Config, logger zerolog.Logger) Dialer {
	cfg = cfg.withDefaults()
	return func(ctx context.Context) (transport.Conn, error) {
		tlsCfg, err := cfg.Session.ClientTLSConfig(cfg.ServerAddr)
		if err != nil {
			return nil, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Session.ConnectTimeout)
		defer cancel()
		return quic.Dial(dialCtx, cfg.ServerAddr, tlsCfg, quicOptions(cfg.Session, logger))
	}
}

// Client sends pings and collects the echoed pongs.
type Client struct {
	cfg   Config
	proto *Protocol
	ep    *session.Endpoint
	dial  Dialer
	log   zerolog.Logger
	rng   *rand.Rand

	conn *session.Conn
	out  *messages.SendStream
}

// NewClient builds a client; a nil dial uses QUICDialer.
func NewClient(cfg Config, dial Dialer) (*Client, error) {
	cfg = cfg.withDefaults()
	proto, err := cfg.protocol()
	if err != nil {
		return nil, err
	}
	logger := log.Logger.With().Str("node", cfg.NodeID).Logger()
	if dial == nil {
		dial = QUICDialer(cfg, logger)
	}
	return &Client{
		cfg:   cfg,
		proto: proto,
		ep:    session.NewEndpoint(proto.Registry, session.Options{Logger: logger}),
		dial:  dial,
		log:   logger,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the server, retrying with backoff, and opens the ping
// stream.
func (c *Client) Connect(ctx context.Context) error {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			c.conn = c.ep.Add(conn)
			c.out, err = c.conn.OpenMessageStream()
			if err == nil {
				c.log.Info().Str("addr", c.cfg.ServerAddr).Int("attempt", attempt).Msg("connected")
				return nil
			}
			c.ep.Remove(conn.ID())
			c.conn = nil
		}
		c.log.Warn().Int("attempt", attempt).Str("addr", c.cfg.ServerAddr).Err(err).Msg("connect failed")
		if !session.ShouldRetry(c.cfg.Session.MaxConnectAttempts, attempt) {
			return err
		}
		if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, attempt, c.rng); err != nil {
			return err
		}
	}
}

// Exchange sends one Ping per message and ticks until every Pong is back,
// returning the pong messages in arrival order.
func (c *Client) Exchange(ctx context.Context, msgs []string) ([]string, error) {
	if c.conn == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}
	for _, m := range msgs {
		if _, err := session.Send(c.conn, c.out, c.proto.Ping, Ping{Message: m}, true); err != nil {
			return nil, err
		}
	}

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	got := make([]string, 0, len(msgs))
	for {
		if err := c.ep.Tick(); err != nil {
			c.conn, c.out = nil, nil
			return got, err
		}
		for _, p := range session.Received(c.conn, c.proto.Pong).Drain() {
			got = append(got, p.Message)
		}
		if len(got) >= len(msgs) {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drops the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	c.ep.Remove(c.conn.ID())
	c.conn, c.out = nil, nil
}
