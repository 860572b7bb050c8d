package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/price-relay/internal/model"
	"github.com/rickgao/price-relay/internal/router"
)

// ErrNotFound is returned when no fresh snapshot exists for a symbol.
var ErrNotFound = errors.New("price not cached")

// Config configures the Cache.
type Config struct {
	KeyPrefix     string        // Default: "price:"
	TTL           time.Duration // Default: 5m
	FlushInterval time.Duration // Default: 1s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "price:",
		TTL:           5 * time.Minute,
		FlushInterval: time.Second,
	}
}

// Snapshot is a cached update with the time the relay saw it.
type Snapshot struct {
	model.PriceUpdate
	UpdatedAt time.Time `json:"updatedAt"`
}

// Metrics counts cache activity.
type Metrics struct {
	Received  int64 `json:"received"`
	Coalesced int64 `json:"coalesced"` // updates replaced before a flush
	Writes    int64 `json:"writes"`
	Flushes   int64 `json:"flushes"`
	Errors    int64 `json:"errors"`
}

// Cache consumes updates from an UpdateBuffer and mirrors them to Redis.
type Cache struct {
	cfg    Config
	logger *slog.Logger
	client redis.Cmdable
	now    func() time.Time

	// Input from the router
	input *router.UpdateBuffer

	// Latest update per symbol since the last flush
	pending   map[string]Snapshot
	pendingMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Cache reading from input.
func New(cfg Config, input *router.UpdateBuffer, client redis.Cmdable, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Cache{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		now:     time.Now,
		input:   input,
		pending: make(map[string]Snapshot),
	}
}

// Start begins consuming updates and flushing them.
func (c *Cache) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.consumeLoop()
	go c.flushLoop()

	c.logger.Info("price cache started",
		"ttl", c.cfg.TTL,
		"flush_interval", c.cfg.FlushInterval,
	)
	return nil
}

// Stop closes the input, waits for the loops and writes what is left.
func (c *Cache) Stop(ctx context.Context) error {
	c.logger.Info("stopping price cache")

	c.input.Close()
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("price cache stop timed out")
	}

	// Final flush
	return c.Flush(ctx)
}

// Stats returns current metrics.
func (c *Cache) Stats() Metrics {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.metrics
}

// consumeLoop drains the input until it is closed.
func (c *Cache) consumeLoop() {
	defer c.wg.Done()

	for {
		update, ok := c.input.Receive()
		if !ok {
			return
		}
		c.add(update)
	}
}

// flushLoop periodically flushes pending snapshots.
func (c *Cache) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Flush(c.ctx)
		}
	}
}

// add records update as the newest for its symbol.
func (c *Cache) add(update model.PriceUpdate) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if _, ok := c.pending[update.Symbol]; ok {
		c.metrics.Coalesced++
	}
	c.pending[update.Symbol] = Snapshot{PriceUpdate: update, UpdatedAt: c.now().UTC()}
	c.metrics.Received++
}

// Flush writes pending snapshots to Redis.
func (c *Cache) Flush(ctx context.Context) error {
	c.pendingMu.Lock()
	if len(c.pending) == 0 {
		c.pendingMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := c.pending
	c.pending = make(map[string]Snapshot, len(batch))
	c.pendingMu.Unlock()

	start := time.Now()

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for symbol, snap := range batch {
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode %s: %w", symbol, err)
			}
			pipe.Set(ctx, c.key(symbol), data, c.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("price cache flush failed", "error", err, "count", len(batch))
		c.pendingMu.Lock()
		c.metrics.Errors++
		c.pendingMu.Unlock()
		return fmt.Errorf("flush price cache: %w", err)
	}

	c.pendingMu.Lock()
	c.metrics.Writes += int64(len(batch))
	c.metrics.Flushes++
	c.pendingMu.Unlock()

	c.logger.Debug("flushed price snapshots",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

// Get returns the cached snapshot for symbol.
func (c *Cache) Get(ctx context.Context, symbol string) (Snapshot, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get %s: %w", symbol, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", symbol, err)
	}
	return snap, nil
}

// GetMany returns the cached snapshots for symbols, skipping misses.
func (c *Cache) GetMany(ctx context.Context, symbols []string) ([]Snapshot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = c.key(sym)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make([]Snapshot, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			c.logger.Warn("skipping undecodable snapshot", "key", keys[i], "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (c *Cache) key(symbol string) string {
	return c.cfg.KeyPrefix + symbol
}
