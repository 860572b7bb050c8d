package registry

import (
	"errors"
	"sort"

	"github.com/rickgao/price-relay/internal/model"
)

// Errors
var (
	ErrUnknownClient   = errors.New("unknown client")
	ErrDuplicateClient = errors.New("client already registered")
)

// ClientID identifies one downstream connection.
type ClientID uint64

// entry is the arena slot for one client.
type entry struct {
	symbols map[string]struct{}
	live    bool
}

// Registry maps client ids to subscription sets.
type Registry struct {
	clients map[ClientID]*entry

	// symbol → subscribed clients
	bySymbol map[string]map[ClientID]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		clients:  make(map[ClientID]*entry),
		bySymbol: make(map[string]map[ClientID]struct{}),
	}
}

// Register creates an empty, live subscription set for id.
func (r *Registry) Register(id ClientID) error {
	if _, ok := r.clients[id]; ok {
		return ErrDuplicateClient
	}
	r.clients[id] = &entry{
		symbols: make(map[string]struct{}),
		live:    true,
	}
	return nil
}

// Subscribe adds symbol to the client's set. It reports whether the set changed.
func (r *Registry) Subscribe(id ClientID, symbol string) (bool, error) {
	e, ok := r.clients[id]
	if !ok {
		return false, ErrUnknownClient
	}
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return false, err
	}
	if _, exists := e.symbols[sym]; exists {
		return false, nil
	}

	e.symbols[sym] = struct{}{}
	subs := r.bySymbol[sym]
	if subs == nil {
		subs = make(map[ClientID]struct{})
		r.bySymbol[sym] = subs
	}
	subs[id] = struct{}{}
	return true, nil
}

// Unsubscribe removes symbol from the client's set. It reports whether the set changed.
func (r *Registry) Unsubscribe(id ClientID, symbol string) (bool, error) {
	e, ok := r.clients[id]
	if !ok {
		return false, ErrUnknownClient
	}
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return false, err
	}
	if _, exists := e.symbols[sym]; !exists {
		return false, nil
	}

	delete(e.symbols, sym)
	r.dropIndex(sym, id)
	return true, nil
}

// Unregister removes the client and returns the symbols it held, sorted.
// Unknown ids return nil.
func (r *Registry) Unregister(id ClientID) []string {
	e, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)

	held := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		held = append(held, sym)
		r.dropIndex(sym, id)
	}
	sort.Strings(held)
	return held
}

// SetLive marks a client as able (or unable) to receive dispatches.
func (r *Registry) SetLive(id ClientID, live bool) error {
	e, ok := r.clients[id]
	if !ok {
		return ErrUnknownClient
	}
	e.live = live
	return nil
}

// IsLive reports whether the client exists and is live.
func (r *Registry) IsLive(id ClientID) bool {
	e, ok := r.clients[id]
	return ok && e.live
}

// Subscribers returns the live clients subscribed to symbol, ascending.
// The symbol is matched exactly; upstream symbols are already uppercase.
func (r *Registry) Subscribers(symbol string) []ClientID {
	subs := r.bySymbol[symbol]
	if len(subs) == 0 {
		return nil
	}
	ids := make([]ClientID, 0, len(subs))
	for id := range subs {
		if r.clients[id].live {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Symbols returns the client's subscriptions, sorted.
func (r *Registry) Symbols(id ClientID) []string {
	e, ok := r.clients[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// EachSymbol calls fn for every (client, symbol) pair.
func (r *Registry) EachSymbol(fn func(id ClientID, symbol string)) {
	for id, e := range r.clients {
		for sym := range e.symbols {
			fn(id, sym)
		}
	}
}

// IDs returns every registered client id, ascending.
func (r *Registry) IDs() []ClientID {
	ids := make([]ClientID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// SymbolCount returns the number of distinct subscribed symbols.
func (r *Registry) SymbolCount() int {
	return len(r.bySymbol)
}

// Clear drops every client.
func (r *Registry) Clear() {
	r.clients = make(map[ClientID]*entry)
	r.bySymbol = make(map[string]map[ClientID]struct{})
}

// dropIndex removes id from the reverse index for sym.
func (r *Registry) dropIndex(sym string, id ClientID) {
	subs := r.bySymbol[sym]
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.bySymbol, sym)
	}
}
