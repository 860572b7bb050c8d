package watchlist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrDuplicateSymbol = errors.New("symbol already in watchlist")
)

// Item is one watched symbol.
type Item struct {
	Symbol  string    `json:"symbol"`
	AddedAt time.Time `json:"addedAt"`
}

// Store persists watchlists. Add and Remove return the updated list.
// Symbols are expected to be normalized by the caller.
type Store interface {
	List(ctx context.Context, user uuid.UUID) ([]Item, error)
	Add(ctx context.Context, user uuid.UUID, symbol string) ([]Item, error)
	Remove(ctx context.Context, user uuid.UUID, symbol string) ([]Item, error)
}

// MemoryStore keeps watchlists in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	lists map[uuid.UUID][]Item
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		lists: make(map[uuid.UUID][]Item),
	}
}

var _ Store = (*MemoryStore)(nil)

// List returns the user's items, oldest first.
func (s *MemoryStore) List(_ context.Context, user uuid.UUID) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(user), nil
}

// Add appends symbol unless it is already present.
func (s *MemoryStore) Add(_ context.Context, user uuid.UUID, symbol string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.lists[user] {
		if it.Symbol == symbol {
			return nil, ErrDuplicateSymbol
		}
	}
	s.lists[user] = append(s.lists[user], Item{Symbol: symbol, AddedAt: s.now().UTC()})
	return s.snapshot(user), nil
}

// Remove drops symbol if present.
func (s *MemoryStore) Remove(_ context.Context, user uuid.UUID, symbol string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.lists[user][:0:0]
	for _, it := range s.lists[user] {
		if it.Symbol != symbol {
			items = append(items, it)
		}
	}
	s.lists[user] = items
	return s.snapshot(user), nil
}

func (s *MemoryStore) snapshot(user uuid.UUID) []Item {
	out := append([]Item{}, s.lists[user]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out
}

// Symbols extracts the symbols of items in order.
func Symbols(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Symbol
	}
	return out
}
