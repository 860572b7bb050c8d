package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/price-relay/internal/connection"
	"github.com/rickgao/price-relay/internal/gateway"
	"github.com/rickgao/price-relay/internal/pricecache"
	"github.com/rickgao/price-relay/internal/relay"
	"github.com/rickgao/price-relay/internal/version"
)

// healthDeps are the components the health endpoint reports on. Optional
// ones are nil when disabled.
type healthDeps struct {
	relay   *relay.Relay
	gateway *gateway.Server
	pool    *pgxpool.Pool
	redis   *redis.Client
	cache   *pricecache.Cache
}

// registerHealth adds /health and /debug/streams to mux.
func registerHealth(mux *http.ServeMux, deps healthDeps) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Current(),
			Components: make(map[string]any),
		}

		stats, err := deps.relay.Stats(ctx)
		if err != nil {
			health.Status = "unhealthy"
			health.Components["relay"] = map[string]string{
				"status": "stopped",
				"error":  err.Error(),
			}
		} else {
			health.Components["relay"] = map[string]any{
				"clients": stats.Clients,
				"symbols": stats.Symbols,
			}
			health.Components["upstream"] = stats.Upstream
			switch {
			case stats.Upstream.Exhausted:
				health.Status = "unhealthy"
			case stats.Upstream.State == connection.StateBackoff:
				health.Status = "degraded"
			}
		}

		health.Components["gateway"] = deps.gateway.Stats()

		if deps.pool != nil {
			if err := deps.pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		if deps.redis != nil {
			if err := deps.redis.Ping(ctx).Err(); err != nil {
				// Snapshots are best-effort; live prices still flow.
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				health.Components["redis"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["redis"] = map[string]any{
					"status": "connected",
					"cache":  deps.cache.Stats(),
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("GET /debug/streams", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats, err := deps.relay.Stats(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		clients, err := deps.relay.Clients(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"stats":   stats,
			"clients": clients,
		})
	})
}
