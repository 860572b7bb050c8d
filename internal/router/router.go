package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/price-relay/internal/model"
	"github.com/rickgao/price-relay/internal/registry"
)

// Subscribers resolves which clients receive a symbol.
type Subscribers interface {
	Subscribers(symbol string) []registry.ClientID
	SetLive(id registry.ClientID, live bool) error
}

// Sender delivers an encoded frame to one downstream client.
type Sender interface {
	Send(data []byte) error
}

// Directory resolves client ids to their senders at dispatch time.
type Directory interface {
	Lookup(id registry.ClientID) (Sender, bool)
}

// Sink receives every valid update. Publish must not block.
type Sink interface {
	Publish(update model.PriceUpdate)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.PriceUpdate)

// Publish calls f.
func (f SinkFunc) Publish(u model.PriceUpdate) { f(u) }

// Router parses upstream frames and fans price updates out to subscribers.
// Route is not safe for concurrent use; Stats is.
type Router struct {
	subs   Subscribers
	dir    Directory
	sink   Sink
	logger *slog.Logger

	received     atomic.Int64
	routed       atomic.Int64
	unrouted     atomic.Int64
	delivered    atomic.Int64
	parseErrors  atomic.Int64
	sendFailures atomic.Int64
}

// Option customizes a Router.
type Option func(*Router)

// WithSink adds a sink that sees every valid update.
func WithSink(s Sink) Option {
	return func(r *Router) {
		r.sink = s
	}
}

// New creates a Router.
func New(subs Subscribers, dir Directory, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		subs:   subs,
		dir:    dir,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route handles one upstream frame and returns how many clients it reached.
func (r *Router) Route(data []byte, receivedAt time.Time) int {
	r.received.Add(1)

	update, err := ParseFrame(data)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("failed to parse upstream frame", "error", err, "bytes", len(data))
		return 0
	}

	if r.sink != nil {
		r.sink.Publish(update)
	}

	ids := r.subs.Subscribers(update.Symbol)
	if len(ids) == 0 {
		r.unrouted.Add(1)
		return 0
	}

	payload, err := json.Marshal(update)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Error("failed to encode price update", "symbol", update.Symbol, "error", err)
		return 0
	}

	r.routed.Add(1)
	delivered := 0
	for _, id := range ids {
		sender, ok := r.dir.Lookup(id)
		if !ok {
			continue
		}
		if err := sender.Send(payload); err != nil {
			r.sendFailures.Add(1)
			r.logger.Warn("failed to send price update",
				"client_id", id,
				"symbol", update.Symbol,
				"error", err,
			)
			if err := r.subs.SetLive(id, false); err != nil {
				r.logger.Debug("failed to mark client not live", "client_id", id, "error", err)
			}
			continue
		}
		delivered++
	}
	r.delivered.Add(int64(delivered))

	if lag := time.Since(receivedAt); !receivedAt.IsZero() && lag > time.Second {
		r.logger.Debug("slow fan-out", "symbol", update.Symbol, "lag", lag)
	}
	return delivered
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		FramesReceived: r.received.Load(),
		FramesRouted:   r.routed.Load(),
		Unrouted:       r.unrouted.Load(),
		Delivered:      r.delivered.Load(),
		ParseErrors:    r.parseErrors.Load(),
		SendFailures:   r.sendFailures.Load(),
	}
}

// ParseFrame decodes a combined-stream ticker frame into a PriceUpdate.
func ParseFrame(data []byte) (model.PriceUpdate, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.PriceUpdate{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Data == nil {
		return model.PriceUpdate{}, ErrMissingData
	}
	if env.Data.Symbol == "" {
		return model.PriceUpdate{}, ErrMissingSymbol
	}

	symbol, err := model.NormalizeSymbol(env.Data.Symbol)
	if err != nil {
		return model.PriceUpdate{}, fmt.Errorf("symbol %q: %w", env.Data.Symbol, err)
	}

	w := env.Data
	if name := w.missing(); name != "" {
		return model.PriceUpdate{}, fmt.Errorf("field %q: %w", name, ErrMissingField)
	}
	return model.PriceUpdate{
		Type:             model.TypePriceUpdate,
		Symbol:           symbol,
		Price:            w.LastPrice.Decimal.InexactFloat64(),
		PercentageChange: w.PercentageChange.Decimal.InexactFloat64(),
		High:             w.High.Decimal.InexactFloat64(),
		Low:              w.Low.Decimal.InexactFloat64(),
		Volume:           w.Volume.Decimal.InexactFloat64(),
		PriceChange:      w.PriceChange.Decimal.InexactFloat64(),
	}, nil
}
