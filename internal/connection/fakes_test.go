package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

type fakeConn struct {
	url        string
	notify     func(Event)
	terminated bool
	sent       [][]byte
}

func (c *fakeConn) Send(data []byte) error {
	if c.terminated {
		return ErrTerminated
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Terminate() error {
	c.terminated = true
	return nil
}

type fakeDialer struct {
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string, notify func(Event)) Conn {
	c := &fakeConn{url: url, notify: notify}
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) last() *fakeConn {
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// active returns timers that have not been stopped or fired.
func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire runs t's callback as if it elapsed.
func (c *fakeClock) fire(t *fakeTimer) {
	c.mu.Lock()
	t.stopped = true
	c.now = c.now.Add(t.delay)
	c.mu.Unlock()
	t.fn()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
