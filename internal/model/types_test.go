package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "already upper", in: "BTCUSDT", want: "BTCUSDT"},
		{name: "lower", in: "ethusdt", want: "ETHUSDT"},
		{name: "padded", in: "  solusdt\t", want: "SOLUSDT"},
		{name: "digits", in: "1000shibusdt", want: "1000SHIBUSDT"},
		{name: "empty", in: "", wantErr: true},
		{name: "blank", in: "   ", wantErr: true},
		{name: "slash", in: "btc/usdt", wantErr: true},
		{name: "stream suffix", in: "btcusdt@ticker", wantErr: true},
		{name: "too long", in: strings.Repeat("A", MaxSymbolLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSymbol) {
					t.Errorf("NormalizeSymbol(%q) error = %v, want ErrInvalidSymbol", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSymbol(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPriceUpdate_WireFormat(t *testing.T) {
	u := PriceUpdate{
		Type:             TypePriceUpdate,
		Symbol:           "BTCUSDT",
		Price:            43000.5,
		PercentageChange: -1.25,
		High:             44000,
		Low:              42000,
		Volume:           1234.5,
		PriceChange:      -540.1,
	}

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"type":"price_update","symbol":"BTCUSDT","price":43000.5,"percentageChange":-1.25,"high":44000,"low":42000,"volume":1234.5,"priceChange":-540.1}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
