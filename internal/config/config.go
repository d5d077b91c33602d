// Package config provides configuration helpers that define runtime defaults,
// validation, and environment/file overrides for the relay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ROOMCHAT_SERVER_PORT.
const EnvPrefix = "ROOMCHAT"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig holds the per-connection transport limits. A frame larger
// than MaxMessageSize ends the connection, so it must stay well above any
// chat message.
type WebSocketConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
}

// SessionConfig configures signed session cookies.
type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full relay configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"ws"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: ":8080",
			AllowedOrigins: []string{
				"http://localhost:8080",
			},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 64 << 10,
			SendBuffer:     256,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
		},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("ws.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("ws.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("ws.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("ws.pong_wait", d.WebSocket.PongWait)
	v.SetDefault("ws.write_wait", d.WebSocket.WriteWait)
	v.SetDefault("session.secret", d.Session.Secret)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Load reads the configuration from defaults, the optional file at path, and
// ROOMCHAT_* environment variables, in increasing order of precedence. The
// result is sanitized; origins that could not be parsed are returned so the
// caller can report them.
func Load(path string) (*Config, []string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}

	sanitized, ignored := Sanitize(cfg)
	return &sanitized, ignored, nil
}

// Sanitize replaces non-positive limits with defaults and normalizes the
// origin allow-list. It returns the origins it dropped as invalid.
func Sanitize(cfg Config) (Config, []string) {
	d := Default()

	if cfg.Server.Port == "" {
		cfg.Server.Port = d.Server.Port
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	cfg.Server.ReadTimeout = positiveDuration(cfg.Server.ReadTimeout, d.Server.ReadTimeout)
	cfg.Server.WriteTimeout = positiveDuration(cfg.Server.WriteTimeout, d.Server.WriteTimeout)
	cfg.Server.IdleTimeout = positiveDuration(cfg.Server.IdleTimeout, d.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = positiveDuration(cfg.Server.ShutdownTimeout, d.Server.ShutdownTimeout)

	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = d.WebSocket.SendBuffer
	}
	cfg.WebSocket.PongWait = positiveDuration(cfg.WebSocket.PongWait, d.WebSocket.PongWait)
	cfg.WebSocket.WriteWait = positiveDuration(cfg.WebSocket.WriteWait, d.WebSocket.WriteWait)
	cfg.WebSocket.PingInterval = positiveDuration(cfg.WebSocket.PingInterval, d.WebSocket.PingInterval)
	// Pings must go out before the peer's pong deadline expires.
	if cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait * 9 / 10
	}

	cfg.Session.TTL = positiveDuration(cfg.Session.TTL, d.Session.TTL)

	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}

	var ignored []string
	cfg.Server.AllowedOrigins, ignored = NormalizeOrigins(cfg.Server.AllowedOrigins)
	return cfg, ignored
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
