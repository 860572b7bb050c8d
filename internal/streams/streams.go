// Package streams implements the Stream Set Aggregator: it derives the set of
// upstream stream identifiers needed to serve every current subscription.
package streams

import (
	"sort"
	"strings"

	"github.com/rickgao/price-relay/internal/registry"
)

// Suffix is appended to a lowercase symbol to form its ticker stream id.
const Suffix = "@ticker"

// Source enumerates subscriptions. *registry.Registry implements it.
type Source interface {
	EachSymbol(fn func(id registry.ClientID, symbol string))
}

// Set is a sorted, duplicate-free list of stream identifiers.
// The zero value is the empty set.
type Set struct {
	ids []string
}

// StreamID maps a symbol to its ticker stream identifier.
func StreamID(symbol string) string {
	return strings.ToLower(symbol) + Suffix
}

// Compute returns the union of every client's symbols as stream identifiers.
func Compute(src Source) Set {
	seen := make(map[string]struct{})
	src.EachSymbol(func(_ registry.ClientID, symbol string) {
		seen[StreamID(symbol)] = struct{}{}
	})
	return fromMap(seen)
}

// Of builds a Set from arbitrary stream identifiers.
func Of(ids ...string) Set {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return fromMap(seen)
}

func fromMap(seen map[string]struct{}) Set {
	if len(seen) == 0 {
		return Set{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Set{ids: ids}
}

// Empty reports whether the set has no identifiers.
func (s Set) Empty() bool { return len(s.ids) == 0 }

// Len returns the number of identifiers.
func (s Set) Len() int { return len(s.ids) }

// Contains reports whether id is in the set.
func (s Set) Contains(id string) bool {
	i := sort.SearchStrings(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

// IDs returns a copy of the identifiers in sorted order.
func (s Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Equal reports whether both sets hold the same identifiers.
func (s Set) Equal(o Set) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

// Join concatenates the identifiers with sep, e.g. "btcusdt@ticker/ethusdt@ticker".
func (s Set) Join(sep string) string {
	return strings.Join(s.ids, sep)
}

// String returns the "/"-joined form used in the upstream URL.
func (s Set) String() string {
	return s.Join("/")
}
