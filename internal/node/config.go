package node

import (
	"strings"
	"time"

	"github.com/danmuck/msgwire/internal/protocol/session"
	"github.com/danmuck/msgwire/internal/transport/quic"
	"github.com/rs/zerolog"
)

// Config configures a Server or Client.
type Config struct {
	NodeID       string
	ListenAddr   string
	ServerAddr   string
	AdminAddr    string
	AdminToken   string
	CORSOrigins  []string
	TickInterval time.Duration
	Codec        string
	Session      session.Config
}

func DefaultConfig() Config {
	return Config{
		NodeID:       "msgwire.local",
		ListenAddr:   "127.0.0.1:27518",
		ServerAddr:   "127.0.0.1:27518",
		AdminAddr:    "",
		TickInterval: 10 * time.Millisecond,
		Codec:        "cbor",
		Session:      session.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = d.NodeID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if strings.TrimSpace(c.ServerAddr) == "" {
		c.ServerAddr = d.ServerAddr
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if strings.TrimSpace(c.Codec) == "" {
		c.Codec = d.Codec
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) protocol() (*Protocol, error) {
	return BuildProtocolNamed(c.Codec)
}

func quicOptions(cfg session.Config, log zerolog.Logger) quic.Options {
	return quic.Options{
		SendWindow:      cfg.SendWindow,
		RecvBuffer:      cfg.RecvBuffer,
		MaxIdleTimeout:  cfg.MaxIdleTimeout,
		KeepAlivePeriod: cfg.KeepAlivePeriod,
		Logger:          log,
	}
}
