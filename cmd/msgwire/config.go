package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/msgwire/internal/logging"
	"github.com/danmuck/msgwire/internal/node"
	"github.com/danmuck/msgwire/internal/protocol/session"
	"github.com/rs/zerolog"
)

type tlsFileConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFileConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type fileConfig struct {
	ID                 string            `toml:"id"`
	LogLevel           string            `toml:"log_level,omitempty"`
	ListenAddr         string            `toml:"listen_addr"`
	ServerAddr         string            `toml:"server_addr"`
	AdminAddr          string            `toml:"admin_addr"`
	AdminToken         string            `toml:"admin_token,omitempty"`
	CORSOrigins        []string          `toml:"cors_origins"`
	TickInterval       string            `toml:"tick_interval"`
	Codec              string            `toml:"codec"`
	ALPN               string            `toml:"alpn"`
	SendWindow         int               `toml:"send_window"`
	RecvBuffer         int               `toml:"recv_buffer"`
	MaxIdleTimeout     string            `toml:"max_idle_timeout"`
	KeepAlivePeriod    string            `toml:"keep_alive_period"`
	ConnectTimeout     string            `toml:"connect_timeout"`
	MaxConnectAttempts int               `toml:"max_connect_attempts"`
	SecurityMode       string            `toml:"security_mode"`
	TLS                tlsFileConfig     `toml:"tls"`
	Backoff            backoffFileConfig `toml:"backoff"`
}

// loadNodeConfig overlays a TOML file on node.DefaultConfig. Only keys
// present in the file override defaults. The returned level is nil when
// the file does not set log_level.
func loadNodeConfig(path string) (node.Config, *zerolog.Level, error) {
	cfg := node.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.Config{}, nil, fmt.Errorf("load msgwire config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return node.Config{}, nil, fmt.Errorf("load msgwire config: unknown keys %v", undecoded)
	}

	var level *zerolog.Level
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return node.Config{}, nil, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
		level = &lvl
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("server_addr") {
		cfg.ServerAddr = strings.TrimSpace(raw.ServerAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"tick_interval", raw.TickInterval, &cfg.TickInterval},
		{"max_idle_timeout", raw.MaxIdleTimeout, &cfg.Session.MaxIdleTimeout},
		{"keep_alive_period", raw.KeepAlivePeriod, &cfg.Session.KeepAlivePeriod},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"backoff.initial_delay", raw.Backoff.InitialDelay, &cfg.Session.Backoff.InitialDelay},
		{"backoff.max_delay", raw.Backoff.MaxDelay, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return node.Config{}, nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("alpn") {
		cfg.Session.ALPN = strings.TrimSpace(raw.ALPN)
	}
	if meta.IsDefined("send_window") {
		cfg.Session.SendWindow = raw.SendWindow
	}
	if meta.IsDefined("recv_buffer") {
		cfg.Session.RecvBuffer = raw.RecvBuffer
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls") {
		cfg.Session.TLS = session.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}
	return cfg, level, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// toFileConfig renders cfg back into the file layout.
func toFileConfig(cfg node.Config) fileConfig {
	sc := cfg.Session
	return fileConfig{
		ID:                 cfg.NodeID,
		ListenAddr:         cfg.ListenAddr,
		ServerAddr:         cfg.ServerAddr,
		AdminAddr:          cfg.AdminAddr,
		AdminToken:         cfg.AdminToken,
		CORSOrigins:        cfg.CORSOrigins,
		TickInterval:       cfg.TickInterval.String(),
		Codec:              cfg.Codec,
		ALPN:               sc.ALPN,
		SendWindow:         sc.SendWindow,
		RecvBuffer:         sc.RecvBuffer,
		MaxIdleTimeout:     sc.MaxIdleTimeout.String(),
		KeepAlivePeriod:    sc.KeepAlivePeriod.String(),
		ConnectTimeout:     sc.ConnectTimeout.String(),
		MaxConnectAttempts: sc.MaxConnectAttempts,
		SecurityMode:       string(sc.SecurityMode),
		TLS: tlsFileConfig{
			Enabled:            sc.TLS.Enabled,
			Mutual:             sc.TLS.Mutual,
			CertFile:           sc.TLS.CertFile,
			KeyFile:            sc.TLS.KeyFile,
			CAFile:             sc.TLS.CAFile,
			ServerName:         sc.TLS.ServerName,
			InsecureSkipVerify: sc.TLS.InsecureSkipVerify,
		},
		Backoff: backoffFileConfig{
			InitialDelay: sc.Backoff.InitialDelay.String(),
			Multiplier:   sc.Backoff.Multiplier,
			MaxDelay:     sc.Backoff.MaxDelay.String(),
			Jitter:       sc.Backoff.Jitter,
		},
	}
}
