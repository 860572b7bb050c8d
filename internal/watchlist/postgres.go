package watchlist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the watchlist table.
const Schema = `
CREATE TABLE IF NOT EXISTS watchlist_items (
    user_id   UUID        NOT NULL,
    symbol    TEXT        NOT NULL,
    added_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, symbol)
)`

const (
	listSQL = `
SELECT symbol, added_at
FROM watchlist_items
WHERE user_id = $1::uuid
ORDER BY added_at, symbol`

	addSQL = `
INSERT INTO watchlist_items (user_id, symbol)
VALUES ($1::uuid, $2)
ON CONFLICT (user_id, symbol) DO NOTHING`

	removeSQL = `
DELETE FROM watchlist_items
WHERE user_id = $1::uuid AND symbol = $2`
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore keeps watchlists in PostgreSQL.
type PGStore struct {
	db DB
}

// NewPGStore creates a store on db.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

// EnsureSchema creates the table if missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create watchlist schema: %w", err)
	}
	return nil
}

// List returns the user's items, oldest first.
func (s *PGStore) List(ctx context.Context, user uuid.UUID) ([]Item, error) {
	rows, err := s.db.Query(ctx, listSQL, user.String())
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.Symbol, &it.AddedAt)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan watchlist: %w", err)
	}
	return items, nil
}

// Add inserts symbol, failing with ErrDuplicateSymbol if present.
func (s *PGStore) Add(ctx context.Context, user uuid.UUID, symbol string) ([]Item, error) {
	tag, err := s.db.Exec(ctx, addSQL, user.String(), symbol)
	if err != nil {
		return nil, fmt.Errorf("insert watchlist item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicateSymbol
	}
	return s.List(ctx, user)
}

// Remove deletes symbol if present.
func (s *PGStore) Remove(ctx context.Context, user uuid.UUID, symbol string) ([]Item, error) {
	if _, err := s.db.Exec(ctx, removeSQL, user.String(), symbol); err != nil {
		return nil, fmt.Errorf("delete watchlist item: %w", err)
	}
	return s.List(ctx, user)
}
