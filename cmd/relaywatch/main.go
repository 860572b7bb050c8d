// relaywatch connects to a running relay, subscribes to symbols and streams
// price updates to the console.
// Usage: go run ./cmd/relaywatch -symbols BTCUSDT,ETHUSDT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/price-relay/internal/model"
)

func main() {
	url := flag.String("url", "ws://localhost:5000/ws", "relay WebSocket endpoint")
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbols to subscribe to")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url)

	for _, s := range strings.Split(*symbols, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		msg, _ := json.Marshal(model.ClientMessage{Type: model.TypeSubscribe, Symbol: s})
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error("failed to subscribe", "symbol", s, "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "symbol", s)
	}

	// Unblock ReadMessage on shutdown
	go func() {
		<-ctx.Done()
		logger.Info("received shutdown signal")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	received := 0
	start := time.Now()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("connection lost", "error", err)
			}
			break
		}
		received++
		printUpdate(data, *verbose)
	}

	logger.Info("stream ended",
		"updates", received,
		"elapsed", time.Since(start).Round(time.Second),
	)
}

func printUpdate(data []byte, verbose bool) {
	if verbose {
		fmt.Printf("[RAW] %s\n", data)
		return
	}

	var u model.PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.Type != model.TypePriceUpdate {
		fmt.Printf("[UNKNOWN] %s\n", data)
		return
	}
	fmt.Printf("[PRICE] symbol=%s price=%g change=%g (%.2f%%) high=%g low=%g vol=%g\n",
		u.Symbol, u.Price, u.PriceChange, u.PercentageChange, u.High, u.Low, u.Volume)
}
