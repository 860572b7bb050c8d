package relay

import (
	"errors"
	"time"

	"github.com/rickgao/price-relay/internal/connection"
	"github.com/rickgao/price-relay/internal/registry"
	"github.com/rickgao/price-relay/internal/router"
)

// Errors
var (
	ErrClosed         = errors.New("relay closed")
	ErrAlreadyRunning = errors.New("relay already running")
)

// Client is a downstream connection as seen by the relay.
type Client interface {
	// Send queues a frame. It must not block the event loop.
	Send(data []byte) error

	// Close shuts the connection down. It must not wait for the client's
	// own goroutines, which may be posting to the relay.
	Close() error
}

// Config configures the Relay.
type Config struct {
	Upstream        connection.Config
	Router          router.Config
	RebuildDebounce time.Duration // 0 rebuilds on every subscription change
	EventBuffer     int           // Event channel capacity. Default: 1024
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Upstream:    connection.DefaultConfig(),
		Router:      router.DefaultConfig(),
		EventBuffer: 1024,
	}
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Clients  int              `json:"clients"`
	Symbols  int              `json:"symbols"`
	Streams  []string         `json:"streams"`
	Upstream connection.Stats `json:"upstream"`
	Router   router.Stats     `json:"router"`
	Events   int64            `json:"events"`
}

// ClientInfo describes one registered client.
type ClientInfo struct {
	ID      registry.ClientID `json:"id"`
	Live    bool              `json:"live"`
	Symbols []string          `json:"symbols"`
}

// events handled by the loop

type event interface{}

type connectEvent struct {
	id     registry.ClientID
	client Client
}

type messageEvent struct {
	id   registry.ClientID
	data []byte
}

type subscriptionEvent struct {
	id        registry.ClientID
	symbol    string
	subscribe bool
}

type disconnectEvent struct {
	id  registry.ClientID
	err error
}

type upstreamEvent struct {
	ev connection.Event
}

type debounceEvent struct {
	gen uint64
}

type queryEvent struct {
	fn func()
}
