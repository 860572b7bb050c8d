package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrTerminated      = errors.New("connection terminated")
)

// DefaultBaseURL is the combined stream endpoint; stream ids are appended.
const DefaultBaseURL = "wss://stream.binance.com:9443/stream?streams="

// State is the upstream connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	}
	return "unknown"
}

// MarshalText lets State render as a string in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies an upstream event.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventError
	EventRetry // reconnect timer fired
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventRetry:
		return "retry"
	}
	return "unknown"
}

// Event is a transport or timer notification for the manager.
type Event struct {
	Kind       EventKind
	Gen        uint64 // connection (or timer) generation, stamped by the manager
	Data       []byte // EventMessage only
	Err        error  // EventClose/EventError
	ReceivedAt time.Time
}

// Conn is one upstream connection attempt.
type Conn interface {
	// Send writes a text frame.
	Send(data []byte) error

	// Terminate drops the connection immediately. No events are delivered
	// after Terminate returns.
	Terminate() error
}

// Dialer opens upstream connections. Dial must return immediately and report
// progress asynchronously through notify (never from inside Dial itself).
type Dialer interface {
	Dial(ctx context.Context, url string, notify func(Event)) Conn
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// FrameHandler receives frames from the current, connected upstream.
type FrameHandler func(data []byte, receivedAt time.Time)

// Config configures the Manager.
type Config struct {
	BaseURL            string        // Stream ids are appended, "/"-joined
	ReconnectBaseDelay time.Duration // Delay before the first retry
	ReconnectMaxDelay  time.Duration // Cap on the retry delay
	MaxAttempts        int           // Automatic retries before giving up
}

// DefaultConfig returns the upstream defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		MaxAttempts:        5,
	}
}

// ClientConfig configures the WebSocket dialer.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	ReadLimit        int64         // Max frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// Stats is a snapshot of manager state.
type Stats struct {
	State       State     `json:"state"`
	Attempts    int       `json:"attempts"`
	Exhausted   bool      `json:"exhausted"`
	Streams     []string  `json:"streams"`
	Pending     bool      `json:"pending_rebuild"`
	Connected   time.Time `json:"connected_at,omitempty"`
	Opens       int64     `json:"opens"`
	Failures    int64     `json:"failures"`
	Rebuilds    int64     `json:"rebuilds"`
	Coalesced   int64     `json:"coalesced"`
	StaleEvents int64     `json:"stale_events"`
}
