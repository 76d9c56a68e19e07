// Package config loads the client configuration from a JSON file, filling in
// defaults for anything the file omits.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/teamgrid/collabcore/internal/util"
)

type Config struct {
	Server    Server    `json:"server"`
	Transport Transport `json:"transport"`
	Media     Media     `json:"media"`
	Cache     Cache     `json:"cache"`
}

// Server holds the REST and socket endpoints of the backend.
type Server struct {
	// APIBase is the REST base URL, e.g. "https://api.example.org".
	APIBase string `json:"api_base"`
	// SocketURL is the websocket endpoint, e.g. "wss://api.example.org/ws".
	SocketURL string `json:"socket_url"`
}

// Transport tunes the persistent connection.
type Transport struct {
	// ReconnectSec is the fixed delay between reconnect attempts.
	ReconnectSec int `json:"reconnect_seconds"`
	// HeartbeatSec is the ping interval; the read deadline is twice this.
	HeartbeatSec int `json:"heartbeat_seconds"`
}

// Media configures WebRTC negotiation.
type Media struct {
	// ICEServers are STUN/TURN URLs handed to every peer connection.
	ICEServers []string `json:"ice_servers"`
	// ChatBuffer is the call-side chat log capacity.
	ChatBuffer int `json:"chat_buffer"`
}

// Cache configures the local sqlite message cache. An empty Path disables it.
type Cache struct {
	Path string `json:"path"`
	// PerChannel is the newest-N messages kept per channel.
	PerChannel int `json:"per_channel"`
}

// Default returns a config with all tunables at their defaults. Endpoints
// stay empty — callers must fill them in or load a file.
func Default() Config {
	return Config{
		Transport: Transport{ReconnectSec: 5, HeartbeatSec: 4},
		Media: Media{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
			ChatBuffer: 200,
		},
		Cache: Cache{PerChannel: 100},
	}
}

// Load reads path, overlays it on Default, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config back to path.
func (c Config) Save(path string) error {
	return util.WriteJSONFile(path, c)
}

// Validate checks endpoint URLs and rejects nonsense intervals.
func (c Config) Validate() error {
	if c.Server.APIBase == "" {
		return fmt.Errorf("config: server.api_base is required")
	}
	if _, err := url.Parse(c.Server.APIBase); err != nil {
		return fmt.Errorf("config: server.api_base: %w", err)
	}
	u, err := url.Parse(c.Server.SocketURL)
	if err != nil {
		return fmt.Errorf("config: server.socket_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: server.socket_url must be ws:// or wss://, got %q", u.Scheme)
	}
	if c.Transport.ReconnectSec <= 0 || c.Transport.HeartbeatSec <= 0 {
		return fmt.Errorf("config: transport intervals must be positive")
	}
	return nil
}

// ReconnectDelay returns the reconnect interval as a duration.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Transport.ReconnectSec) * time.Second
}

// HeartbeatInterval returns the heartbeat interval as a duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Transport.HeartbeatSec) * time.Second
}
