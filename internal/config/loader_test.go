package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/log"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Calls.RingTimeout != 30*time.Second {
		t.Fatalf("expected default ring timeout, got %v", cfg.Calls.RingTimeout)
	}
	if cfg.Relay.Fanout != FanoutTargeted {
		t.Fatalf("expected targeted fanout, got %q", cfg.Relay.Fanout)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("addr: \":9999\"\ncalls:\n  ring_timeout: 10s\nrelay:\n  fanout: broadcast\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WIRERELAY_JWT_SECRET", "from-env")
	t.Setenv("WIRERELAY_ADDR", ":7777")

	cfg, _, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7777" {
		t.Fatalf("env should override file, got addr %q", cfg.Addr)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.JWT.Secret)
	}
	if cfg.Calls.RingTimeout != 10*time.Second {
		t.Fatalf("expected ring timeout from file, got %v", cfg.Calls.RingTimeout)
	}
	if cfg.Relay.Fanout != FanoutBroadcast {
		t.Fatalf("expected broadcast fanout, got %q", cfg.Relay.Fanout)
	}
	if cfg.WS.SendBuffer != Default().WS.SendBuffer {
		t.Fatalf("expected default send buffer, got %d", cfg.WS.SendBuffer)
	}
}

func TestUpdateFromSkipsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", Log: LogConfig{Level: "debug"}})

	if cfg.Addr != ":1234" || cfg.Log.Level != "debug" {
		t.Fatalf("override not applied: %+v", cfg)
	}
	if cfg.Log.Format != "console" || cfg.Calls.RingTimeout != 30*time.Second {
		t.Fatalf("zero values should not override: %+v", cfg)
	}
}
