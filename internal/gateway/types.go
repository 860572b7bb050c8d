package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/price-relay/internal/registry"
	"github.com/rickgao/price-relay/internal/relay"
	"github.com/rickgao/price-relay/internal/watchlist"
)

// Errors
var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowClient   = errors.New("client send queue full")
)

// Relay is the part of the relay the gateway drives.
type Relay interface {
	Connect(c relay.Client) (registry.ClientID, error)
	HandleMessage(id registry.ClientID, data []byte) error
	Subscribe(id registry.ClientID, symbol string) error
	Disconnect(id registry.ClientID, err error) error
}

// WatchlistSource loads a user's saved symbols.
type WatchlistSource interface {
	List(ctx context.Context, user uuid.UUID) ([]watchlist.Item, error)
}

// Config configures the gateway.
type Config struct {
	AllowedOrigins   []string      // Browser origins allowed to connect; "*" allows all
	SendQueueSize    int           // Outbound frames buffered per client
	ReadLimit        int64         // Max inbound frame size
	WriteTimeout     time.Duration // Deadline per outbound frame
	PingInterval     time.Duration // How often we ping clients
	PongWait         time.Duration // Read deadline, extended by every pong
	MessageRate      float64       // Inbound frames per second (0 = unlimited)
	MessageBurst     int
	WatchlistTimeout time.Duration // Deadline for loading ?user= watchlists
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendQueueSize:    64,
		ReadLimit:        4096,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		MessageRate:      10,
		MessageBurst:     20,
		WatchlistTimeout: 5 * time.Second,
	}
}

// Stats counts gateway activity.
type Stats struct {
	Active      int64 `json:"active"`
	Accepted    int64 `json:"accepted"`
	Rejected    int64 `json:"rejected"`
	RateLimited int64 `json:"rate_limited"`
	SlowClients int64 `json:"slow_clients"`
}
