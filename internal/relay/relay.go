package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/price-relay/internal/connection"
	"github.com/rickgao/price-relay/internal/model"
	"github.com/rickgao/price-relay/internal/registry"
	"github.com/rickgao/price-relay/internal/router"
	"github.com/rickgao/price-relay/internal/streams"
)

// Relay wires downstream clients to the single upstream connection.
type Relay struct {
	cfg    Config
	logger *slog.Logger
	clock  connection.Clock

	events  chan event
	done    chan struct{}
	running atomic.Bool
	nextID  atomic.Uint64
	handled atomic.Int64

	// Owned by the event loop
	registry *registry.Registry
	clients  map[registry.ClientID]Client
	manager  *connection.Manager
	router   *router.Router

	debounce    connection.Timer
	debounceGen uint64
}

// Option customizes a Relay.
type Option func(*relayOptions)

type relayOptions struct {
	clock connection.Clock
	sink  router.Sink
}

// WithClock replaces the wall clock for reconnect and debounce timers.
func WithClock(c connection.Clock) Option {
	return func(o *relayOptions) {
		o.clock = c
	}
}

// WithSink passes every valid price update to s.
func WithSink(s router.Sink) Option {
	return func(o *relayOptions) {
		o.sink = s
	}
}

// New creates a Relay that dials upstream through dialer. Call Run to start it.
func New(cfg Config, dialer connection.Dialer, logger *slog.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	o := relayOptions{clock: connection.SystemClock}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Relay{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		events:   make(chan event, cfg.EventBuffer),
		done:     make(chan struct{}),
		registry: registry.New(),
		clients:  make(map[registry.ClientID]Client),
	}

	var routerOpts []router.Option
	if o.sink != nil {
		routerOpts = append(routerOpts, router.WithSink(o.sink))
	}
	r.router = router.New(r.registry, directory{r}, logger.With("component", "router"), routerOpts...)

	r.manager = connection.NewManager(cfg.Upstream, dialer,
		func(ev connection.Event) { r.post(upstreamEvent{ev: ev}) },
		func(data []byte, receivedAt time.Time) { r.router.Route(data, receivedAt) },
		logger.With("component", "upstream"),
		connection.WithClock(o.clock),
	)
	return r
}

// Connect registers a new downstream client and returns its id.
func (r *Relay) Connect(c Client) (registry.ClientID, error) {
	id := registry.ClientID(r.nextID.Add(1))
	if err := r.post(connectEvent{id: id, client: c}); err != nil {
		return 0, err
	}
	return id, nil
}

// HandleMessage processes a raw inbound frame from a client.
func (r *Relay) HandleMessage(id registry.ClientID, data []byte) error {
	return r.post(messageEvent{id: id, data: data})
}

// Subscribe adds symbol to a client's subscriptions.
func (r *Relay) Subscribe(id registry.ClientID, symbol string) error {
	return r.post(subscriptionEvent{id: id, symbol: symbol, subscribe: true})
}

// Unsubscribe removes symbol from a client's subscriptions.
func (r *Relay) Unsubscribe(id registry.ClientID, symbol string) error {
	return r.post(subscriptionEvent{id: id, symbol: symbol})
}

// Disconnect unregisters a client after its connection closed or failed.
func (r *Relay) Disconnect(id registry.ClientID, err error) error {
	return r.post(disconnectEvent{id: id, err: err})
}

// Stats returns a snapshot taken on the event loop.
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.query(ctx, func() {
		s = Stats{
			Clients:  r.registry.Len(),
			Symbols:  r.registry.SymbolCount(),
			Streams:  streams.Compute(r.registry).IDs(),
			Upstream: r.manager.Stats(),
			Router:   r.router.Stats(),
			Events:   r.handled.Load(),
		}
	})
	return s, err
}

// Clients lists registered clients, ascending by id.
func (r *Relay) Clients(ctx context.Context) ([]ClientInfo, error) {
	var out []ClientInfo
	err := r.query(ctx, func() {
		for _, id := range r.registry.IDs() {
			out = append(out, ClientInfo{
				ID:      id,
				Live:    r.registry.IsLive(id),
				Symbols: r.registry.Symbols(id),
			})
		}
	})
	return out, err
}

// Done is closed once Run has returned or begun shutting down.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Run processes events until ctx is cancelled, then closes every client and
// the upstream connection.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	r.logger.Info("relay started",
		"base_url", r.cfg.Upstream.BaseURL,
		"rebuild_debounce", r.cfg.RebuildDebounce,
	)

	for {
		select {
		case <-ctx.Done():
			close(r.done)
			r.shutdown()
			return nil
		case ev := <-r.events:
			r.handle(ev)
			r.handled.Add(1)
		}
	}
}

// post enqueues ev for the loop.
func (r *Relay) post(ev event) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrClosed
	}
}

// query runs fn on the loop and waits for it.
func (r *Relay) query(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	if err := r.post(queryEvent{fn: func() {
		fn()
		close(reply)
	}}); err != nil {
		return err
	}

	select {
	case <-reply:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) handle(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		r.handleConnect(ev)
	case messageEvent:
		r.handleMessage(ev)
	case subscriptionEvent:
		r.handleSubscription(ev.id, ev.symbol, ev.subscribe)
	case disconnectEvent:
		r.handleDisconnect(ev)
	case upstreamEvent:
		r.manager.HandleEvent(ev.ev)
	case debounceEvent:
		if r.debounce != nil && ev.gen == r.debounceGen {
			r.debounce = nil
			r.rebuild()
		}
	case queryEvent:
		ev.fn()
	}
}

func (r *Relay) handleConnect(ev connectEvent) {
	if err := r.registry.Register(ev.id); err != nil {
		r.logger.Error("failed to register client", "client_id", ev.id, "error", err)
		ev.client.Close()
		return
	}
	r.clients[ev.id] = ev.client
	r.logger.Info("client connected", "client_id", ev.id, "clients", r.registry.Len())
}

func (r *Relay) handleMessage(ev messageEvent) {
	var msg model.ClientMessage
	if err := json.Unmarshal(ev.data, &msg); err != nil {
		r.logger.Warn("failed to parse client message", "client_id", ev.id, "error", err)
		return
	}

	switch msg.Type {
	case model.TypeSubscribe:
		r.handleSubscription(ev.id, msg.Symbol, true)
	case model.TypeUnsubscribe:
		r.handleSubscription(ev.id, msg.Symbol, false)
	default:
		r.logger.Debug("ignoring client message", "client_id", ev.id, "type", msg.Type)
	}
}

func (r *Relay) handleSubscription(id registry.ClientID, symbol string, subscribe bool) {
	var (
		changed bool
		err     error
	)
	if subscribe {
		changed, err = r.registry.Subscribe(id, symbol)
	} else {
		changed, err = r.registry.Unsubscribe(id, symbol)
	}
	if err != nil {
		r.logger.Warn("rejected subscription change",
			"client_id", id,
			"symbol", symbol,
			"subscribe", subscribe,
			"error", err,
		)
		return
	}

	r.logger.Debug("subscription changed",
		"client_id", id,
		"symbol", symbol,
		"subscribe", subscribe,
		"changed", changed,
	)
	if changed {
		r.requestRebuild()
	}
}

func (r *Relay) handleDisconnect(ev disconnectEvent) {
	if _, ok := r.clients[ev.id]; !ok {
		return
	}
	delete(r.clients, ev.id)
	held := r.registry.Unregister(ev.id)

	attrs := []any{"client_id", ev.id, "symbols", len(held), "clients", r.registry.Len()}
	if ev.err != nil {
		attrs = append(attrs, "error", ev.err)
	}
	r.logger.Info("client disconnected", attrs...)

	if len(held) > 0 {
		r.requestRebuild()
	}
}

// requestRebuild recomputes the stream set now or after the debounce window.
func (r *Relay) requestRebuild() {
	if r.cfg.RebuildDebounce <= 0 {
		r.rebuild()
		return
	}
	if r.debounce != nil {
		return
	}
	r.debounceGen++
	gen := r.debounceGen
	r.debounce = r.clock.AfterFunc(r.cfg.RebuildDebounce, func() {
		r.post(debounceEvent{gen: gen})
	})
}

func (r *Relay) rebuild() {
	r.manager.Rebuild(streams.Compute(r.registry))
}

func (r *Relay) shutdown() {
	r.logger.Info("relay shutting down", "clients", len(r.clients))

	if r.debounce != nil {
		r.debounce.Stop()
		r.debounce = nil
	}
	for id, c := range r.clients {
		if err := c.Close(); err != nil {
			r.logger.Debug("failed to close client", "client_id", id, "error", err)
		}
	}
	r.clients = make(map[registry.ClientID]Client)
	r.manager.Close()
	r.registry.Clear()

	r.logger.Info("relay stopped", "events", r.handled.Load())
}

// directory resolves client ids for the router.
type directory struct {
	r *Relay
}

func (d directory) Lookup(id registry.ClientID) (router.Sender, bool) {
	c, ok := d.r.clients[id]
	return c, ok
}

var _ router.Directory = directory{}
