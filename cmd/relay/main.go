package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/price-relay/internal/config"
	"github.com/rickgao/price-relay/internal/connection"
	"github.com/rickgao/price-relay/internal/database"
	"github.com/rickgao/price-relay/internal/gateway"
	"github.com/rickgao/price-relay/internal/pricecache"
	"github.com/rickgao/price-relay/internal/relay"
	"github.com/rickgao/price-relay/internal/router"
	"github.com/rickgao/price-relay/internal/version"
	"github.com/rickgao/price-relay/internal/watchlist"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func loadConfig(path string) (*config.RelayConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) error {
	var relayOpts []relay.Option

	// Optional watchlist database
	var pool *pgxpool.Pool
	var store watchlist.Store
	if cfg.Database.Enabled() {
		var err error
		pool, err = database.Open(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		pg := watchlist.NewPGStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure watchlist schema: %w", err)
		}
		store = pg
	}

	// Optional price snapshot cache
	var rdb *redis.Client
	var cache *pricecache.Cache
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr)

		buf := router.NewUpdateBuffer(router.DefaultConfig())
		cache = pricecache.New(pricecache.Config{
			KeyPrefix:     cfg.Redis.KeyPrefix,
			TTL:           cfg.Redis.TTL,
			FlushInterval: cfg.Redis.FlushInterval,
		}, buf, rdb, logger.With("component", "pricecache"))
		relayOpts = append(relayOpts, relay.WithSink(router.BufferSink(buf)))
	}

	dialer := connection.NewWSDialer(connection.ClientConfig{
		HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
		WriteTimeout:     connection.DefaultClientConfig().WriteTimeout,
		PingInterval:     cfg.Upstream.PingInterval,
		PingTimeout:      cfg.Upstream.PingTimeout,
		ReadLimit:        cfg.Upstream.ReadLimit,
	}, logger.With("component", "upstream"))

	relayCfg := relay.DefaultConfig()
	relayCfg.Upstream = connection.Config{
		BaseURL:            cfg.Upstream.BaseURL,
		ReconnectBaseDelay: cfg.Upstream.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Upstream.ReconnectMaxDelay,
		MaxAttempts:        cfg.Upstream.MaxAttempts,
	}
	relayCfg.RebuildDebounce = cfg.Upstream.RebuildDebounce
	relayCfg.EventBuffer = cfg.Upstream.EventBuffer

	rl := relay.New(relayCfg, dialer, logger, relayOpts...)

	gwCfg := gateway.DefaultConfig()
	gwCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	gwCfg.SendQueueSize = cfg.Server.SendQueueSize
	gwCfg.ReadLimit = cfg.Server.ReadLimit
	gwCfg.WriteTimeout = cfg.Server.WriteTimeout
	gwCfg.PingInterval = cfg.Server.PingInterval
	gwCfg.PongWait = cfg.Server.PongWait
	gwCfg.MessageRate = cfg.Server.MessageRate
	gwCfg.MessageBurst = cfg.Server.MessageBurst

	var gwOpts []gateway.Option
	if store != nil {
		gwOpts = append(gwOpts, gateway.WithWatchlist(store))
	}
	gw := gateway.New(gwCfg, rl, logger.With("component", "gateway"), gwOpts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, gw)
	registerHealth(mux, healthDeps{relay: rl, gateway: gw, pool: pool, redis: rdb, cache: cache})
	if store != nil {
		watchlist.NewHandler(store, logger.With("component", "watchlist")).Register(mux)
	}
	if cache != nil {
		pricecache.NewHandler(cache, logger.With("component", "pricecache")).Register(mux)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rl.Run(gctx)
	})

	if cache != nil {
		if err := cache.Start(gctx); err != nil {
			return fmt.Errorf("start price cache: %w", err)
		}
	}

	g.Go(func() error {
		logger.Info("listening",
			"addr", cfg.Server.Addr,
			"ws_path", cfg.Server.Path,
			"upstream", cfg.Upstream.BaseURL,
			"watchlist", store != nil,
			"price_cache", cache != nil,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// The relay closes every client once its context is done; wait for
		// their pumps before stopping the listener for good.
		if err := gw.Wait(shutdownCtx); err != nil {
			logger.Warn("clients still connected at shutdown", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		if cache != nil {
			if err := cache.Stop(shutdownCtx); err != nil {
				logger.Warn("price cache shutdown", "error", err)
			}
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
