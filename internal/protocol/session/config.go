package session

import (
	"strings"
	"time"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// DefaultALPN is the application protocol negotiated on QUIC connections.
const DefaultALPN = "msgwire"

// TLSConfig describes certificate material for the QUIC handshake.
type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// Config defines transport/session defaults shared by servers and clients.
type Config struct {
	SecurityMode       SecurityMode
	TLS                TLSConfig
	ALPN               string
	ConnectTimeout     time.Duration
	MaxIdleTimeout     time.Duration
	KeepAlivePeriod    time.Duration
	SendWindow         int
	RecvBuffer         int
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		SecurityMode:    SecurityModeDevelopment,
		ALPN:            DefaultALPN,
		ConnectTimeout:  5 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
		SendWindow:      64 * 1024,
		RecvBuffer:      256 * 1024,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if strings.TrimSpace(c.ALPN) == "" {
		c.ALPN = d.ALPN
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxIdleTimeout <= 0 {
		c.MaxIdleTimeout = d.MaxIdleTimeout
	}
	if c.KeepAlivePeriod < 0 {
		c.KeepAlivePeriod = 0
	}
	if c.SendWindow <= 0 {
		c.SendWindow = d.SendWindow
	}
	if c.RecvBuffer <= 0 {
		c.RecvBuffer = d.RecvBuffer
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
