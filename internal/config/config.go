package config

import (
	"log/slog"
	"strings"
	"time"
)

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Database DBConfig       `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the downstream HTTP and WebSocket settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Path            string        `yaml:"path"`            // WebSocket endpoint
	AllowedOrigins  []string      `yaml:"allowed_origins"` // "*" allows any origin
	SendQueueSize   int           `yaml:"send_queue_size"`
	ReadLimit       int64         `yaml:"read_limit"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	MessageRate     float64       `yaml:"message_rate"` // Inbound frames per second per client
	MessageBurst    int           `yaml:"message_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig holds the upstream feed and reconnect settings.
type UpstreamConfig struct {
	BaseURL            string        `yaml:"base_url"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RebuildDebounce    time.Duration `yaml:"rebuild_debounce"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	ReadLimit          int64         `yaml:"read_limit"`
	EventBuffer        int           `yaml:"event_buffer"`
}

// DBConfig holds the optional watchlist database. An empty host disables it.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// RedisConfig holds the optional price snapshot cache. An empty addr disables it.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TTL           time.Duration `yaml:"ttl"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SlogLevel maps Level to a slog.Level. Unknown values map to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
