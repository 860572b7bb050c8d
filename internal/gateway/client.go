package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rickgao/price-relay/internal/registry"
)

// client is one downstream connection. It implements relay.Client.
type client struct {
	id      registry.ClientID
	conn    *websocket.Conn
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	onSlow func()
}

func newClient(conn *websocket.Conn, cfg Config, logger *slog.Logger) *client {
	limit := rate.Inf
	if cfg.MessageRate > 0 {
		limit = rate.Limit(cfg.MessageRate)
	}
	burst := cfg.MessageBurst
	if burst < 1 {
		burst = 1
	}
	queue := cfg.SendQueueSize
	if queue < 1 {
		queue = 1
	}

	return &client{
		conn:    conn,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
		send:    make(chan []byte, queue),
		done:    make(chan struct{}),
	}
}

// Send queues data for the write pump. A full queue closes the client.
func (c *client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		if c.onSlow != nil {
			c.onSlow()
		}
		c.Close()
		return ErrSlowClient
	}
}

// Close asks the write pump to send a close frame and drop the connection.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// readPump forwards inbound frames until the connection fails. It returns
// the error that ended the connection, nil for a normal close.
func (c *client) readPump(forward func([]byte) error, onLimited func()) error {
	if c.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(c.cfg.ReadLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			select {
			case <-c.done:
				// We closed it.
				return nil
			default:
			}
			return err
		}

		if !c.limiter.Allow() {
			onLimited()
			c.logger.Debug("client message rate limited", "client_id", c.id)
			continue
		}

		if err := forward(data); err != nil {
			return err
		}
	}
}

// writePump drains the send queue and pings the peer.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("client write failed", "client_id", c.id, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
			err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("client close frame failed", "client_id", c.id, "error", err)
			}
			return
		}
	}
}
