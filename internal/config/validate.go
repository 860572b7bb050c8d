package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.SendQueueSize < 1 {
		return errors.New("server.send_queue_size must be >= 1")
	}
	if c.Server.PongWait <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_wait (%v) must exceed server.ping_interval (%v)", c.Server.PongWait, c.Server.PingInterval)
	}
	if c.Server.MessageRate < 0 {
		return errors.New("server.message_rate must be >= 0")
	}

	if !strings.HasPrefix(c.Upstream.BaseURL, "ws://") && !strings.HasPrefix(c.Upstream.BaseURL, "wss://") {
		return fmt.Errorf("upstream.base_url must be a ws:// or wss:// url, got %q", c.Upstream.BaseURL)
	}
	if c.Upstream.MaxAttempts < 1 {
		return errors.New("upstream.max_attempts must be >= 1")
	}
	if c.Upstream.ReconnectBaseDelay <= 0 {
		return errors.New("upstream.reconnect_base_delay must be > 0")
	}
	if c.Upstream.ReconnectMaxDelay < c.Upstream.ReconnectBaseDelay {
		return fmt.Errorf("upstream.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)",
			c.Upstream.ReconnectMaxDelay, c.Upstream.ReconnectBaseDelay)
	}
	if c.Upstream.RebuildDebounce < 0 {
		return errors.New("upstream.rebuild_debounce must be >= 0")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Redis.Enabled() && c.Redis.TTL <= 0 {
		return errors.New("redis.ttl must be > 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
