package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Transport.ReconnectSec != 5 || cfg.Transport.HeartbeatSec != 4 {
		t.Fatalf("transport defaults: %+v", cfg.Transport)
	}
	if cfg.ReconnectDelay() != 5*time.Second || cfg.HeartbeatInterval() != 4*time.Second {
		t.Fatal("duration accessors disagree with defaults")
	}
	if len(cfg.Media.ICEServers) == 0 {
		t.Fatal("no default STUN server")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"server": {"api_base": "https://api.example.org", "socket_url": "wss://api.example.org/ws"},
		"transport": {"reconnect_seconds": 2, "heartbeat_seconds": 1}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.ReconnectSec != 2 {
		t.Errorf("file value not applied: %+v", cfg.Transport)
	}
	if cfg.Media.ChatBuffer != 200 {
		t.Errorf("omitted section lost its default: %+v", cfg.Media)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Server.APIBase = "https://api.example.org"
	valid.Server.SocketURL = "wss://api.example.org/ws"
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api base", func(c *Config) { c.Server.APIBase = "" }},
		{"http socket scheme", func(c *Config) { c.Server.SocketURL = "https://api.example.org/ws" }},
		{"zero heartbeat", func(c *Config) { c.Transport.HeartbeatSec = 0 }},
		{"negative reconnect", func(c *Config) { c.Transport.ReconnectSec = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Server.APIBase = "https://api.example.org"
	cfg.Server.SocketURL = "ws://localhost:8080/ws"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Server.SocketURL != cfg.Server.SocketURL {
		t.Fatalf("round trip: %+v", got.Server)
	}
}
