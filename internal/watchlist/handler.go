package watchlist

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/rickgao/price-relay/internal/model"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// Handler serves the watchlist REST API.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the routes on mux. The /add and /remove forms are kept for
// older frontends.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/watchlist", h.list)
	mux.HandleFunc("POST /api/watchlist", h.add)
	mux.HandleFunc("POST /api/watchlist/add", h.add)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", h.remove)
	mux.HandleFunc("DELETE /api/watchlist/remove/{symbol}", h.remove)
}

type addRequest struct {
	Symbol string `json:"symbol"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	items, err := h.store.List(r.Context(), user)
	if err != nil {
		h.serverError(w, "list watchlist", user, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	var req addRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}
	symbol, err := model.NormalizeSymbol(req.Symbol)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid symbol"})
		return
	}

	items, err := h.store.Add(r.Context(), user, symbol)
	if errors.Is(err, ErrDuplicateSymbol) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Symbol already in watchlist"})
		return
	}
	if err != nil {
		h.serverError(w, "add watchlist item", user, err)
		return
	}

	h.logger.Debug("watchlist item added", "user_id", user, "symbol", symbol)
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	symbol, err := model.NormalizeSymbol(r.PathValue("symbol"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid symbol"})
		return
	}

	items, err := h.store.Remove(r.Context(), user, symbol)
	if err != nil {
		h.serverError(w, "remove watchlist item", user, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

// user extracts the caller's id or writes an error response.
func (h *Handler) user(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(UserHeader)
	if raw == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Not authorized"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) serverError(w http.ResponseWriter, op string, user uuid.UUID, err error) {
	h.logger.Error("watchlist request failed", "op", op, "user_id", user, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Server error"})
}

func nonNil(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
