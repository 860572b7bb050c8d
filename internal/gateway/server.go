package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests to relay clients.
type Server struct {
	cfg        Config
	relay      Relay
	watchlists WatchlistSource
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup

	active      atomic.Int64
	accepted    atomic.Int64
	rejected    atomic.Int64
	rateLimited atomic.Int64
	slowClients atomic.Int64
}

// Option customizes a Server.
type Option func(*Server)

// WithWatchlist enables ?user=<uuid> auto-subscription.
func WithWatchlist(src WatchlistSource) Option {
	return func(s *Server) {
		s.watchlists = src
	}
}

// New creates a Server.
func New(cfg Config, relay Relay, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		relay:  relay,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		s.rejected.Add(1)
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	var user uuid.UUID
	if raw := r.URL.Query().Get("user"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.rejected.Add(1)
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		user = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.rejected.Add(1)
		s.logger.Debug("websocket upgrade failed",
			"remote", r.RemoteAddr,
			"origin", r.Header.Get("Origin"),
			"error", err,
		)
		return
	}

	c := newClient(conn, s.cfg, s.logger)
	c.onSlow = func() { s.slowClients.Add(1) }

	id, err := s.relay.Connect(c)
	if err != nil {
		s.logger.Warn("relay refused client", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}
	c.id = id

	s.accepted.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)

	s.logger.Debug("client accepted", "client_id", id, "remote", r.RemoteAddr)

	go c.writePump()

	if user != uuid.Nil && s.watchlists != nil {
		s.subscribeWatchlist(r.Context(), c, user)
	}

	readErr := c.readPump(
		func(data []byte) error { return s.relay.HandleMessage(id, data) },
		func() { s.rateLimited.Add(1) },
	)
	c.Close()
	s.relay.Disconnect(id, readErr)
}

// subscribeWatchlist subscribes c to every symbol in the user's watchlist.
func (s *Server) subscribeWatchlist(ctx context.Context, c *client, user uuid.UUID) {
	if s.cfg.WatchlistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WatchlistTimeout)
		defer cancel()
	}

	items, err := s.watchlists.List(ctx, user)
	if err != nil {
		s.logger.Warn("failed to load watchlist", "client_id", c.id, "user_id", user, "error", err)
		return
	}
	for _, it := range items {
		if err := s.relay.Subscribe(c.id, it.Symbol); err != nil {
			return
		}
	}
	s.logger.Debug("subscribed watchlist", "client_id", c.id, "user_id", user, "symbols", len(items))
}

// track registers a handler unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// Wait stops accepting connections and blocks until every connection
// handler has returned or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Active:      s.active.Load(),
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		RateLimited: s.rateLimited.Load(),
		SlowClients: s.slowClients.Load(),
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browsers whose origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
				return true
			}
		}
		return false
	}
}
