// Package database opens the PostgreSQL pool backing the watchlist store.
package database
