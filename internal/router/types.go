package router

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrMissingData   = errors.New("frame has no data")
	ErrMissingSymbol = errors.New("frame has no symbol")
	ErrMissingField  = errors.New("frame is missing a ticker field")
)

// Config holds configuration for the Message Router.
type Config struct {
	// Sink buffer sizing
	SinkBufferSize int // Initial capacity. Default: 256
	SinkBufferMax  int // Oldest updates are dropped beyond this. Default: 16384
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		SinkBufferSize: 256,
		SinkBufferMax:  16384,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived int64 `json:"frames_received"`
	FramesRouted   int64 `json:"frames_routed"` // valid frames with at least one subscriber
	Unrouted       int64 `json:"unrouted"`      // valid frames nobody was subscribed to
	Delivered      int64 `json:"delivered"`
	ParseErrors    int64 `json:"parse_errors"`
	SendFailures   int64 `json:"send_failures"`
}

// Wire format types (upstream combined-stream JSON)

// envelope wraps every combined-stream frame.
type envelope struct {
	Stream string      `json:"stream"`
	Data   *tickerWire `json:"data"`
}

// tickerWire is the 24h rolling ticker payload. Numbers arrive as strings;
// decimal accepts both strings and bare numbers. Absent and null fields stay
// invalid so they can be rejected instead of read as zero.
type tickerWire struct {
	Symbol           string              `json:"s"`
	LastPrice        decimal.NullDecimal `json:"c"`
	PercentageChange decimal.NullDecimal `json:"P"`
	High             decimal.NullDecimal `json:"h"`
	Low              decimal.NullDecimal `json:"l"`
	Volume           decimal.NullDecimal `json:"v"`
	PriceChange      decimal.NullDecimal `json:"p"`
}

// missing returns the wire name of the first absent or null field, or "".
func (w *tickerWire) missing() string {
	fields := []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"c", w.LastPrice},
		{"P", w.PercentageChange},
		{"h", w.High},
		{"l", w.Low},
		{"v", w.Volume},
		{"p", w.PriceChange},
	}
	for _, f := range fields {
		if !f.value.Valid {
			return f.name
		}
	}
	return ""
}
