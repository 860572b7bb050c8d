package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/price-relay/internal/model"
	"github.com/rickgao/price-relay/internal/registry"
)

type fakeSender struct {
	frames [][]byte
	err    error
}

func (s *fakeSender) Send(data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}

type fakeDirectory map[registry.ClientID]*fakeSender

func (d fakeDirectory) Lookup(id registry.ClientID) (Sender, bool) {
	s, ok := d[id]
	return s, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const btcFrame = `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","s":"BTCUSDT","p":"-120.50","P":"-0.180","c":"67000.10","h":"68000.00","l":"66000.00","v":"1234.5"}}`

func setup(t *testing.T, subs map[registry.ClientID][]string) (*registry.Registry, fakeDirectory) {
	t.Helper()
	reg := registry.New()
	dir := fakeDirectory{}

	ids := make([]registry.ClientID, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := reg.Register(id); err != nil {
			t.Fatalf("Register(%d): %v", id, err)
		}
		for _, sym := range subs[id] {
			if _, err := reg.Subscribe(id, sym); err != nil {
				t.Fatalf("Subscribe(%d, %s): %v", id, sym, err)
			}
		}
		dir[id] = &fakeSender{}
	}
	return reg, dir
}

func TestParseFrame(t *testing.T) {
	got, err := ParseFrame([]byte(btcFrame))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}

	want := model.PriceUpdate{
		Type:             "price_update",
		Symbol:           "BTCUSDT",
		Price:            67000.1,
		PercentageChange: -0.18,
		High:             68000,
		Low:              66000,
		Volume:           1234.5,
		PriceChange:      -120.5,
	}
	if got != want {
		t.Errorf("ParseFrame() = %+v, want %+v", got, want)
	}
}

func TestParseFrame_NumericFields(t *testing.T) {
	frame := `{"stream":"ethusdt@ticker","data":{"s":"ethusdt","c":3100.5,"P":1.25,"h":3200,"l":3000,"v":10,"p":38.2}}`
	got, err := ParseFrame([]byte(frame))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if got.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want ETHUSDT", got.Symbol)
	}
	if got.Price != 3100.5 || got.PercentageChange != 1.25 {
		t.Errorf("Price/PercentageChange = %v/%v, want 3100.5/1.25", got.Price, got.PercentageChange)
	}
}

func TestParseFrame_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `not json`, nil},
		{"no data", `{"stream":"btcusdt@ticker"}`, ErrMissingData},
		{"null data", `{"stream":"btcusdt@ticker","data":null}`, ErrMissingData},
		{"no symbol", `{"stream":"btcusdt@ticker","data":{"c":"1"}}`, ErrMissingSymbol},
		{"bad symbol", `{"data":{"s":"BTC/USDT","c":"1"}}`, model.ErrInvalidSymbol},
		{"bad number", `{"data":{"s":"BTCUSDT","c":"abc"}}`, nil},
		{"only symbol", `{"data":{"s":"BTCUSDT"}}`, ErrMissingField},
		{"missing price", `{"data":{"s":"BTCUSDT","P":"1","h":"2","l":"1","v":"3","p":"0.5"}}`, ErrMissingField},
		{"null price", `{"data":{"s":"BTCUSDT","c":null,"P":"1","h":"2","l":"1","v":"3","p":"0.5"}}`, ErrMissingField},
		{"all null", `{"data":{"s":"BTCUSDT","c":null,"P":null,"h":null,"l":null,"v":null,"p":null}}`, ErrMissingField},
		{"missing volume", `{"data":{"s":"BTCUSDT","c":"1","P":"1","h":"2","l":"1","p":"0.5"}}`, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tt.frame))
			if err == nil {
				t.Fatal("ParseFrame() error = nil, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ParseFrame() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRouter_DeliversOnlyToSubscribers(t *testing.T) {
	reg, dir := setup(t, map[registry.ClientID][]string{
		1: {"BTCUSDT"},
		2: {"ETHUSDT"},
		3: {"BTCUSDT", "ETHUSDT"},
	})
	r := New(reg, dir, discardLogger())

	if n := r.Route([]byte(btcFrame), time.Now()); n != 2 {
		t.Errorf("Route() = %d, want 2", n)
	}

	if len(dir[1].frames) != 1 {
		t.Errorf("client 1 frames = %d, want 1", len(dir[1].frames))
	}
	if len(dir[2].frames) != 0 {
		t.Errorf("client 2 frames = %d, want 0", len(dir[2].frames))
	}
	if len(dir[3].frames) != 1 {
		t.Errorf("client 3 frames = %d, want 1", len(dir[3].frames))
	}

	var got map[string]any
	if err := json.Unmarshal(dir[1].frames[0], &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got["type"] != "price_update" || got["symbol"] != "BTCUSDT" {
		t.Errorf("payload = %v", got)
	}
	if got["price"] != 67000.1 {
		t.Errorf("price = %v, want 67000.1", got["price"])
	}
}

func TestRouter_SendFailureIsIsolated(t *testing.T) {
	reg, dir := setup(t, map[registry.ClientID][]string{
		1: {"BTCUSDT"},
		2: {"BTCUSDT"},
	})
	dir[1].err = errors.New("broken pipe")
	r := New(reg, dir, discardLogger())

	if n := r.Route([]byte(btcFrame), time.Now()); n != 1 {
		t.Errorf("Route() = %d, want 1", n)
	}
	if len(dir[2].frames) != 1 {
		t.Errorf("client 2 frames = %d, want 1", len(dir[2].frames))
	}
	if reg.IsLive(1) {
		t.Error("client 1 still live after send failure")
	}

	// Client 1 is skipped from now on.
	dir[1].err = nil
	r.Route([]byte(btcFrame), time.Now())
	if len(dir[1].frames) != 0 {
		t.Errorf("client 1 frames = %d, want 0", len(dir[1].frames))
	}

	stats := r.Stats()
	if stats.SendFailures != 1 {
		t.Errorf("SendFailures = %d, want 1", stats.SendFailures)
	}
	if stats.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", stats.Delivered)
	}
}

func TestRouter_MalformedFrameCounted(t *testing.T) {
	reg, dir := setup(t, map[registry.ClientID][]string{1: {"BTCUSDT"}})
	r := New(reg, dir, discardLogger())

	r.Route([]byte(`{"stream":"x"}`), time.Now())
	r.Route([]byte(`garbage`), time.Now())

	if got := r.Stats().ParseErrors; got != 2 {
		t.Errorf("ParseErrors = %d, want 2", got)
	}
	if len(dir[1].frames) != 0 {
		t.Errorf("frames = %d, want 0", len(dir[1].frames))
	}
}

func TestRouter_NoSubscribers(t *testing.T) {
	reg, dir := setup(t, map[registry.ClientID][]string{1: {"ETHUSDT"}})
	r := New(reg, dir, discardLogger())

	if n := r.Route([]byte(btcFrame), time.Now()); n != 0 {
		t.Errorf("Route() = %d, want 0", n)
	}
	stats := r.Stats()
	if stats.Unrouted != 1 || stats.FramesRouted != 0 {
		t.Errorf("Unrouted/FramesRouted = %d/%d, want 1/0", stats.Unrouted, stats.FramesRouted)
	}
}

func TestRouter_SinkSeesEveryValidUpdate(t *testing.T) {
	reg, dir := setup(t, nil)
	buf := NewUpdateBuffer(DefaultConfig())
	r := New(reg, dir, discardLogger(), WithSink(BufferSink(buf)))

	r.Route([]byte(btcFrame), time.Now())
	r.Route([]byte(`bad`), time.Now())

	got := buf.DrainTo(0)
	if len(got) != 1 {
		t.Fatalf("sink received %d updates, want 1", len(got))
	}
	if got[0].Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", got[0].Symbol)
	}
}

func TestRouter_IncompleteTickerDropped(t *testing.T) {
	reg, dir := setup(t, map[registry.ClientID][]string{1: {"BTCUSDT"}})
	buf := NewUpdateBuffer(DefaultConfig())
	r := New(reg, dir, discardLogger(), WithSink(BufferSink(buf)))

	frames := []string{
		`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT"}}`,
		`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":null,"P":null,"h":null,"l":null,"v":null,"p":null}}`,
	}
	for _, f := range frames {
		if n := r.Route([]byte(f), time.Now()); n != 0 {
			t.Errorf("Route(%s) = %d, want 0", f, n)
		}
	}

	if len(dir[1].frames) != 0 {
		t.Errorf("client frames = %d, want 0", len(dir[1].frames))
	}
	if n := buf.Len(); n != 0 {
		t.Errorf("sink received %d updates, want 0", n)
	}
	if got := r.Stats().ParseErrors; got != 2 {
		t.Errorf("ParseErrors = %d, want 2", got)
	}
}

// failingLiveness wraps a registry whose SetLive always fails.
type failingLiveness struct {
	*registry.Registry
}

func (failingLiveness) SetLive(registry.ClientID, bool) error {
	return registry.ErrUnknownClient
}

func TestRouter_SetLiveErrorLogged(t *testing.T) {
	reg, dir := setup(t, map[registry.ClientID][]string{
		1: {"BTCUSDT"},
		2: {"BTCUSDT"},
	})
	dir[1].err = errors.New("broken pipe")

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := New(failingLiveness{reg}, dir, logger)

	if n := r.Route([]byte(btcFrame), time.Now()); n != 1 {
		t.Errorf("Route() = %d, want 1", n)
	}
	if !strings.Contains(logs.String(), "failed to mark client not live") {
		t.Errorf("logs = %q, want SetLive failure", logs.String())
	}
}
