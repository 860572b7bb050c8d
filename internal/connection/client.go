package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer dials upstream WebSocket connections with gorilla/websocket.
type WSDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewWSDialer creates a WebSocket dialer.
func NewWSDialer(cfg ClientConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// Dial starts connecting in the background and returns immediately.
func (d *WSDialer) Dial(ctx context.Context, url string, notify func(Event)) Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		cfg:    d.cfg,
		logger: d.logger,
		url:    url,
		notify: notify,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// wsConn is one upstream connection attempt.
type wsConn struct {
	cfg    ClientConfig
	logger *slog.Logger
	url    string
	notify func(Event)
	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	conn       *websocket.Conn
	terminated bool
	stale      bool
	lastPingAt time.Time
}

// Send writes a text frame.
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	terminated := c.terminated
	c.mu.Unlock()

	if terminated {
		return ErrTerminated
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Terminate drops the connection without a close handshake.
func (c *wsConn) Terminate() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	c.cancel()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *wsConn) isTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// run dials, reports open, then reads until the connection fails.
func (c *wsConn) run(ctx context.Context) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if !c.isTerminated() {
			c.notify(Event{Kind: EventError, Err: fmt.Errorf("dial upstream: %w", err)})
		}
		return
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	// Server pings us; answer and note liveness.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.logger.Debug("upstream websocket connected", "url", c.url)
	c.notify(Event{Kind: EventOpen, ReceivedAt: time.Now()})

	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop(conn)
	}
	c.readLoop(conn)
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// readLoop forwards frames until the first read error.
func (c *wsConn) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.mu.Lock()
			terminated, stale := c.terminated, c.stale
			c.mu.Unlock()
			if terminated {
				return
			}

			conn.Close()
			kind := EventError
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				kind = EventClose
			}
			if stale {
				kind, err = EventError, ErrStaleConnection
			}
			c.notify(Event{Kind: kind, Err: err, ReceivedAt: receivedAt})
			return
		}

		c.notify(Event{Kind: EventMessage, Data: data, ReceivedAt: receivedAt})
	}
}

// heartbeatLoop pings the server and drops the connection when it goes quiet.
func (c *wsConn) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.mu.Lock()
				c.stale = true
				c.mu.Unlock()
				conn.Close()
				return
			}
		}
	}
}
