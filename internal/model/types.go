package model

import (
	"errors"
	"strings"
)

// Downstream message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePriceUpdate = "price_update"
)

// MaxSymbolLength bounds the length of a client supplied symbol.
const MaxSymbolLength = 32

// ErrInvalidSymbol is returned for empty, oversized or non-alphanumeric symbols.
var ErrInvalidSymbol = errors.New("invalid symbol")

// ClientMessage is an inbound downstream frame.
type ClientMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// PriceUpdate is the outbound downstream frame for one ticker event.
type PriceUpdate struct {
	Type             string  `json:"type"` // always "price_update"
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	PercentageChange float64 `json:"percentageChange"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Volume           float64 `json:"volume"`
	PriceChange      float64 `json:"priceChange"`
}

// NormalizeSymbol trims and uppercases a symbol and checks that it only
// contains ASCII letters and digits. Anything else would leak into the
// upstream stream path.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || len(s) > MaxSymbolLength {
		return "", ErrInvalidSymbol
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", ErrInvalidSymbol
		}
	}
	return s, nil
}
