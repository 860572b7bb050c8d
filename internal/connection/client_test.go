package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func eventSink() (func(Event), chan Event) {
	ch := make(chan Event, 16)
	return func(ev Event) { ch <- ev }, ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestWSDialer_OpenAndMessage(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@ticker"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	notify, events := eventSink()
	conn := NewWSDialer(testClientConfig(), nil).Dial(context.Background(), wsURL(server), notify)
	defer conn.Terminate()

	if ev := waitEvent(t, events); ev.Kind != EventOpen {
		t.Fatalf("first event = %v, want open", ev.Kind)
	}

	ev := waitEvent(t, events)
	if ev.Kind != EventMessage {
		t.Fatalf("second event = %v, want message", ev.Kind)
	}
	if string(ev.Data) != `{"stream":"btcusdt@ticker"}` {
		t.Errorf("Data = %s", ev.Data)
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt is zero")
	}
}

func TestWSDialer_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex
	got := make(chan struct{})

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		received = msg
		mu.Unlock()
		close(got)
		conn.ReadMessage()
	})
	defer server.Close()

	notify, events := eventSink()
	conn := NewWSDialer(testClientConfig(), nil).Dial(context.Background(), wsURL(server), notify)
	defer conn.Terminate()

	waitEvent(t, events)

	if err := conn.Send([]byte(`{"test":"message"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != `{"test":"message"}` {
		t.Errorf("received %s", received)
	}
}

func TestWSDialer_ServerCloseReportsClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})
	defer server.Close()

	notify, events := eventSink()
	conn := NewWSDialer(testClientConfig(), nil).Dial(context.Background(), wsURL(server), notify)
	defer conn.Terminate()

	waitEvent(t, events)
	ev := waitEvent(t, events)
	if ev.Kind != EventClose {
		t.Fatalf("event = %v, want close", ev.Kind)
	}
	var closeErr *websocket.CloseError
	if !errors.As(ev.Err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Errorf("Err = %v, want close 1001", ev.Err)
	}
}

func TestWSDialer_DialFailureReportsError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	notify, events := eventSink()
	conn := NewWSDialer(testClientConfig(), nil).Dial(context.Background(), wsURL(server), notify)
	defer conn.Terminate()

	ev := waitEvent(t, events)
	if ev.Kind != EventError {
		t.Fatalf("event = %v, want error", ev.Kind)
	}
	if ev.Err == nil {
		t.Error("Err is nil")
	}
}

func TestWSDialer_TerminateSilencesEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	notify, events := eventSink()
	conn := NewWSDialer(testClientConfig(), nil).Dial(context.Background(), wsURL(server), notify)

	waitEvent(t, events)

	if err := conn.Terminate(); err != nil {
		t.Errorf("Terminate failed: %v", err)
	}
	if err := conn.Terminate(); err != nil {
		t.Errorf("second Terminate failed: %v", err)
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected event after terminate: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	if err := conn.Send([]byte("x")); !errors.Is(err, ErrTerminated) {
		t.Errorf("Send after terminate = %v, want ErrTerminated", err)
	}
}

func TestWSDialer_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Swallow pings so the client never sees a pong.
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testClientConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	notify, events := eventSink()
	conn := NewWSDialer(cfg, nil).Dial(context.Background(), wsURL(server), notify)
	defer conn.Terminate()

	waitEvent(t, events)
	ev := waitEvent(t, events)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrStaleConnection) {
		t.Errorf("event = %v %v, want error ErrStaleConnection", ev.Kind, ev.Err)
	}
}
