package session

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/msgwire/internal/testutil/testlog"
	"github.com/danmuck/msgwire/internal/testutil/tlstest"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestShouldRetryAndSleepBackoff(t *testing.T) {
	testlog.Start(t)
	if !ShouldRetry(0, 100) || !ShouldRetry(3, 2) || ShouldRetry(3, 3) {
		t.Fatalf("retry limits not honoured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{InitialDelay: time.Hour}
	if err := SleepBackoff(ctx, cfg, 1, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := SleepBackoff(context.Background(), BackoffConfig{}, 1, nil); err != nil {
		t.Fatalf("zero delay sleep: %v", err)
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: "  PRODUCTION ", SendWindow: 10}.WithDefaults()
	if cfg.SecurityMode != SecurityModeProduction {
		t.Fatalf("mode=%q", cfg.SecurityMode)
	}
	if cfg.ALPN != DefaultALPN || cfg.SendWindow != 10 || cfg.RecvBuffer == 0 || cfg.Backoff.InitialDelay == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateClientTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidateRejectsUnknownSecurityMode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "paranoid"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestDevelopmentTLSConfigsUseEphemeralCert(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	server, err := cfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	if len(server.Certificates) != 1 || server.MinVersion != tls.VersionTLS13 {
		t.Fatalf("unexpected server tls config")
	}
	if len(server.NextProtos) != 1 || server.NextProtos[0] != DefaultALPN {
		t.Fatalf("alpn=%v", server.NextProtos)
	}
	client, err := cfg.ClientTLSConfig("127.0.0.1:4242")
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	if !client.InsecureSkipVerify {
		t.Fatalf("development client should skip verification without tls material")
	}
}

func TestMutualTLSConfigsLoadMaterial(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "msgwire-test-ca")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "server", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	clientCert, clientKey := ca.IssueClientCert(t, dir, "client")

	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	cfg.TLS = TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: serverCert,
		KeyFile:  serverKey,
		CAFile:   ca.CAFile(),
	}
	server, err := cfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	if server.ClientAuth != tls.RequireAndVerifyClientCert || server.ClientCAs == nil {
		t.Fatalf("server does not require client certs")
	}

	cfg.TLS.CertFile = clientCert
	cfg.TLS.KeyFile = clientKey
	client, err := cfg.ClientTLSConfig("localhost:4242")
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	if client.ServerName != "localhost" || client.RootCAs == nil || len(client.Certificates) != 1 {
		t.Fatalf("unexpected client tls config")
	}
}
