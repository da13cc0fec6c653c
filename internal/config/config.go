package config

import "time"

// Fan-out modes for feed events.
const (
	FanoutBroadcast = "broadcast"
	FanoutTargeted  = "targeted"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	Log        LogConfig   `mapstructure:"log" yaml:"log"`
	JWT        JWTConfig   `mapstructure:"jwt" yaml:"jwt"`
	Auth       AuthConfig  `mapstructure:"auth" yaml:"auth"`
	Calls      CallsConfig `mapstructure:"calls" yaml:"calls"`
	WS         WSConfig    `mapstructure:"ws" yaml:"ws"`
	Relay      RelayConfig `mapstructure:"relay" yaml:"relay"`
	ICEServers []ICEServer `mapstructure:"ice_servers" yaml:"ice_servers"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// JWTConfig describes how handshake tokens are verified.
type JWTConfig struct {
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Issuer   string `mapstructure:"issuer" yaml:"issuer"`
	Audience string `mapstructure:"audience" yaml:"audience"`
}

// AuthConfig bounds the handshake.
type AuthConfig struct {
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
}

// CallsConfig tunes call signaling.
type CallsConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
}

// WSConfig tunes websocket connections.
type WSConfig struct {
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// RateLimit caps inbound messages per connection per minute. Zero disables it.
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RelayConfig tunes the event relay.
type RelayConfig struct {
	Fanout string `mapstructure:"fanout" yaml:"fanout"`
	// APIKeyHash is a bcrypt hash of the key accepted by POST /internal/events.
	// Empty disables the endpoint.
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash"`
}

// ICEServer is handed to clients in the ready event.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" yaml:"urls"`
	Username   string   `mapstructure:"username" yaml:"username,omitempty"`
	Credential string   `mapstructure:"credential" yaml:"credential,omitempty"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "wirerelay.db",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		JWT: JWTConfig{
			Secret: "change-me",
		},
		Auth: AuthConfig{
			VerifyTimeout: 3 * time.Second,
		},
		Calls: CallsConfig{
			RingTimeout: 30 * time.Second,
		},
		WS: WSConfig{
			MaxMessageBytes: 64 << 10,
			SendBuffer:      64,
			WriteTimeout:    5 * time.Second,
			RateLimit:       600,
		},
		Relay: RelayConfig{
			Fanout: FanoutTargeted,
		},
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.JWT.Secret != "" {
		c.JWT.Secret = other.JWT.Secret
	}
	if other.Calls.RingTimeout != 0 {
		c.Calls.RingTimeout = other.Calls.RingTimeout
	}
	if other.Relay.Fanout != "" {
		c.Relay.Fanout = other.Relay.Fanout
	}
}
