package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/price-relay/internal/streams"
)

// trigger is an input to the state machine.
type trigger int

const (
	triggerRebuild trigger = iota // non-empty rebuild request
	triggerClear                  // empty rebuild request or shutdown
	triggerOpened                 // transport reported open
	triggerFailed                 // transport reported error or close
	triggerRetry                  // reconnect timer fired
)

// transitions is the manager's state machine. Pairs not listed are ignored.
var transitions = map[State]map[trigger]State{
	StateIdle: {
		triggerRebuild: StateConnecting,
		triggerClear:   StateIdle,
	},
	StateConnecting: {
		triggerRebuild: StateConnecting,
		triggerClear:   StateIdle,
		triggerOpened:  StateConnected,
		triggerFailed:  StateBackoff,
	},
	StateConnected: {
		triggerRebuild: StateConnecting,
		triggerClear:   StateIdle,
		triggerFailed:  StateBackoff,
	},
	StateBackoff: {
		triggerRebuild: StateConnecting,
		triggerClear:   StateIdle,
		triggerRetry:   StateConnecting,
	},
}

// Manager owns the single upstream connection. All methods must be called
// from the same goroutine that receives the notify callbacks' events.
type Manager struct {
	cfg     Config
	dialer  Dialer
	clock   Clock
	notify  func(Event)
	onFrame FrameHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	state    State
	attempts int
	streams  streams.Set  // set the current/last connection was opened with
	pending  *streams.Set // rebuild requested while connecting
	conn     Conn
	gen      uint64 // bumped whenever conn is replaced or dropped
	url      string

	timer    Timer
	timerGen uint64

	connectedAt time.Time
	stats       Stats
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// NewManager creates an idle Manager. notify must enqueue the event for the
// owning goroutine, which then calls HandleEvent. onFrame receives upstream
// frames while connected.
func NewManager(cfg Config, dialer Dialer, notify func(Event), onFrame FrameHandler, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		clock:   SystemClock,
		notify:  notify,
		onFrame: onFrame,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// Attempts returns the number of consecutive failed attempts.
func (m *Manager) Attempts() int {
	return m.attempts
}

// Streams returns the set the current connection was opened with.
func (m *Manager) Streams() streams.Set {
	return m.streams
}

// URL returns the endpoint of the current or last connection attempt.
func (m *Manager) URL() string {
	return m.url
}

// Exhausted reports whether automatic reconnection has given up.
func (m *Manager) Exhausted() bool {
	return m.state == StateBackoff && m.timer == nil && m.attempts > m.cfg.MaxAttempts
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() Stats {
	s := m.stats
	s.State = m.state
	s.Attempts = m.attempts
	s.Exhausted = m.Exhausted()
	s.Streams = m.streams.IDs()
	s.Pending = m.pending != nil
	s.Connected = m.connectedAt
	return s
}

// Rebuild makes the upstream connection serve set. An empty set tears the
// connection down. While an attempt is in flight the request is remembered
// and applied once that attempt settles.
func (m *Manager) Rebuild(set streams.Set) {
	if m.closed {
		return
	}
	m.stats.Rebuilds++

	if set.Empty() {
		m.clear()
		return
	}

	switch m.state {
	case StateConnecting:
		if set.Equal(m.streams) {
			m.pending = nil
			return
		}
		m.pending = &set
		m.stats.Coalesced++
		m.logger.Debug("rebuild coalesced with in-flight attempt",
			"streams", set.Len(),
		)
		return

	case StateConnected:
		if set.Equal(m.streams) {
			return
		}
	}

	// A fresh request after giving up restarts the attempt sequence.
	if m.attempts > m.cfg.MaxAttempts {
		m.attempts = 0
	}

	m.open(set, triggerRebuild)
}

// HandleEvent applies a transport or timer event.
func (m *Manager) HandleEvent(ev Event) {
	if m.closed {
		return
	}

	if ev.Kind == EventRetry {
		if m.timer == nil || ev.Gen != m.timerGen || m.state != StateBackoff {
			m.stats.StaleEvents++
			return
		}
		m.timer = nil
		m.logger.Info("reconnecting to upstream",
			"attempt", m.attempts,
			"max_attempts", m.cfg.MaxAttempts,
		)
		m.open(m.streams, triggerRetry)
		return
	}

	if m.conn == nil || ev.Gen != m.gen {
		m.stats.StaleEvents++
		return
	}

	switch ev.Kind {
	case EventOpen:
		m.handleOpen()
	case EventMessage:
		if m.state == StateConnected && m.onFrame != nil {
			m.onFrame(ev.Data, ev.ReceivedAt)
		}
	case EventClose, EventError:
		m.handleFailure(ev)
	}
}

// Close tears down the connection and cancels timers. The manager ignores
// all further calls.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.clear()
	m.closed = true
	m.cancel()
	m.logger.Info("upstream connection manager closed")
}

// handleOpen completes a connection attempt.
func (m *Manager) handleOpen() {
	if !m.fire(triggerOpened) {
		return
	}
	m.attempts = 0
	m.connectedAt = m.clock.Now()
	m.stats.Opens++

	m.logger.Info("connected to upstream",
		"streams", m.streams.Len(),
	)

	if m.pending != nil {
		next := *m.pending
		m.pending = nil
		if !next.Equal(m.streams) {
			m.Rebuild(next)
		}
	}
}

// handleFailure moves a connecting or connected manager into backoff.
func (m *Manager) handleFailure(ev Event) {
	if m.state != StateConnecting && m.state != StateConnected {
		return
	}

	m.terminate()
	m.fire(triggerFailed)
	m.attempts++
	m.stats.Failures++
	m.connectedAt = time.Time{}

	// Retry with the most recent request, not the one that failed.
	if m.pending != nil {
		m.streams = *m.pending
		m.pending = nil
	}

	if m.attempts > m.cfg.MaxAttempts {
		m.logger.Warn("upstream reconnect attempts exhausted",
			"failures", m.attempts,
			"max_attempts", m.cfg.MaxAttempts,
			"error", ev.Err,
		)
		return
	}

	delay := BackoffDelay(m.attempts, m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
	m.scheduleRetry(delay)

	m.logger.Warn("upstream connection lost",
		"event", ev.Kind,
		"error", ev.Err,
		"attempt", m.attempts,
		"max_attempts", m.cfg.MaxAttempts,
		"retry_in", delay,
	)
}

// open dials a new connection for set, replacing any existing one.
func (m *Manager) open(set streams.Set, t trigger) {
	m.cancelTimer()
	m.terminate()

	m.gen++
	gen := m.gen
	m.streams = set
	m.url = m.cfg.BaseURL + set.Join("/")
	m.fire(t)

	m.logger.Info("connecting to upstream",
		"streams", set.Len(),
		"attempt", m.attempts,
	)

	m.conn = m.dialer.Dial(m.ctx, m.url, func(ev Event) {
		ev.Gen = gen
		m.notify(ev)
	})
}

// clear drops everything and returns to idle.
func (m *Manager) clear() {
	was := m.state

	m.cancelTimer()
	m.terminate()
	m.attempts = 0
	m.pending = nil
	m.streams = streams.Set{}
	m.connectedAt = time.Time{}
	m.fire(triggerClear)

	if was != StateIdle {
		m.logger.Info("upstream idle, no active streams", "previous_state", was)
	}
}

// terminate drops the current connection, if any. Events it already queued
// become stale.
func (m *Manager) terminate() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Terminate(); err != nil {
		m.logger.Debug("terminate upstream connection", "error", err)
	}
	m.conn = nil
	m.gen++
}

func (m *Manager) scheduleRetry(delay time.Duration) {
	m.cancelTimer()
	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(delay, func() {
		m.notify(Event{Kind: EventRetry, Gen: gen})
	})
}

func (m *Manager) cancelTimer() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.timerGen++
}

// fire applies t to the state machine and reports whether it was accepted.
func (m *Manager) fire(t trigger) bool {
	next, ok := transitions[m.state][t]
	if !ok {
		return false
	}
	m.state = next
	return true
}
