package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr         = ":5000"
	DefaultServerPath         = "/ws"
	DefaultSendQueueSize      = 64
	DefaultClientReadLimit    = 4096
	DefaultWriteTimeout       = 10 * time.Second
	DefaultClientPingInterval = 30 * time.Second
	DefaultPongWait           = 60 * time.Second
	DefaultMessageRate        = 10
	DefaultMessageBurst       = 20
	DefaultShutdownTimeout    = 10 * time.Second

	DefaultUpstreamURL        = "wss://stream.binance.com:9443/stream?streams="
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultMaxAttempts        = 5
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultUpstreamPing       = 30 * time.Second
	DefaultUpstreamPingWait   = 90 * time.Second
	DefaultUpstreamReadLimit  = 1 << 20
	DefaultEventBuffer        = 1024

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultRedisKeyPrefix     = "price:"
	DefaultRedisTTL           = 5 * time.Minute
	DefaultRedisFlushInterval = 1 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// DefaultAllowedOrigins are the browser origins the relay accepts.
var DefaultAllowedOrigins = []string{
	"https://cryptowizz.vercel.app",
	"http://localhost:5173",
}

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Server.SendQueueSize == 0 {
		c.Server.SendQueueSize = DefaultSendQueueSize
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultClientReadLimit
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultClientPingInterval
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = DefaultPongWait
	}
	if c.Server.MessageRate == 0 {
		c.Server.MessageRate = DefaultMessageRate
	}
	if c.Server.MessageBurst == 0 {
		c.Server.MessageBurst = DefaultMessageBurst
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Upstream defaults
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamURL
	}
	if c.Upstream.ReconnectBaseDelay == 0 {
		c.Upstream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Upstream.ReconnectMaxDelay == 0 {
		c.Upstream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Upstream.MaxAttempts == 0 {
		c.Upstream.MaxAttempts = DefaultMaxAttempts
	}
	if c.Upstream.HandshakeTimeout == 0 {
		c.Upstream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Upstream.PingInterval == 0 {
		c.Upstream.PingInterval = DefaultUpstreamPing
	}
	if c.Upstream.PingTimeout == 0 {
		c.Upstream.PingTimeout = DefaultUpstreamPingWait
	}
	if c.Upstream.ReadLimit == 0 {
		c.Upstream.ReadLimit = DefaultUpstreamReadLimit
	}
	if c.Upstream.EventBuffer == 0 {
		c.Upstream.EventBuffer = DefaultEventBuffer
	}

	// Database defaults (only when configured)
	if c.Database.Enabled() {
		if c.Database.Port == 0 {
			c.Database.Port = DefaultDBPort
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = DefaultDBSSLMode
		}
		if c.Database.MaxConns == 0 {
			c.Database.MaxConns = DefaultMaxConns
		}
		if c.Database.MinConns == 0 {
			c.Database.MinConns = DefaultMinConns
		}
	}

	// Redis defaults
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}
	if c.Redis.FlushInterval == 0 {
		c.Redis.FlushInterval = DefaultRedisFlushInterval
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
