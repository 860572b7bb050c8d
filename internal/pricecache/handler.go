package pricecache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rickgao/price-relay/internal/model"
)

// maxBatchSymbols bounds GET /api/prices?symbols=...
const maxBatchSymbols = 100

// Handler serves cached prices over HTTP.
type Handler struct {
	cache  *Cache
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cache *Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cache: cache, logger: logger}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/prices/{symbol}", h.get)
	mux.HandleFunc("GET /api/prices", h.getMany)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	symbol, err := model.NormalizeSymbol(r.PathValue("symbol"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid symbol"})
		return
	}

	snap, err := h.cache.Get(r.Context(), symbol)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Price not available"})
		return
	}
	if err != nil {
		h.logger.Error("price lookup failed", "symbol", symbol, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) getMany(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, raw := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		symbol, err := model.NormalizeSymbol(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid symbol"})
			return
		}
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 || len(symbols) > maxBatchSymbols {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "symbols must list 1 to 100 symbols"})
		return
	}

	snaps, err := h.cache.GetMany(r.Context(), symbols)
	if err != nil {
		h.logger.Error("price lookup failed", "symbols", len(symbols), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		return
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
