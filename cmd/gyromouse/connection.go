package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gyromouse/internal/protocol"
)

// ConnState is the lifecycle state of the pointer host link.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnState) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateReconnecting; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// ErrNotOpen is returned by Disconnect when there is nothing to disconnect.
var ErrNotOpen = errors.New("connection not open")

// TransportErrorKind classifies transport failures.
type TransportErrorKind int

const (
	// TransportOpenFailure means an explicit connect could not establish the link.
	TransportOpenFailure TransportErrorKind = iota
	// TransportRuntimeError means an open link failed.
	TransportRuntimeError
)

func (k TransportErrorKind) String() string {
	if k == TransportOpenFailure {
		return "open failure"
	}
	return "runtime error"
}

// TransportError carries the URL and cause of a transport failure.
type TransportError struct {
	Kind TransportErrorKind
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates timers. The real implementation is time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// reconnectDelay is the backoff for 0-indexed attempt n.
func reconnectDelay(n int) time.Duration {
	return reconnectBaseDelay << n
}

// ConnectionManager owns the pointer host link.
//
// All methods must be called from the daemon loop. Blocking work (dialing,
// waiting on the transport, backoff timers) runs in goroutines that only
// post events back through post; results are matched to the current attempt
// by generation so stale callbacks are ignored.
type ConnectionManager struct {
	dialer   Dialer
	sched    Scheduler
	post     func(Event)
	settings func() Settings
	logger   *slog.Logger

	// optional observers
	onState        func(ConnState)
	onConnectError func(*TransportError)

	state      ConnState
	transport  Transport
	attempts   int
	gen        uint64
	timer      Timer
	cancelDial context.CancelFunc
}

// ConnectionManagerConfig wires a ConnectionManager.
type ConnectionManagerConfig struct {
	Dialer    Dialer
	Scheduler Scheduler // nil uses time.AfterFunc

	// Post delivers internal events to the owning loop.
	Post func(Event)

	// Settings returns the current settings (server URL and the values sent
	// right after open).
	Settings func() Settings

	OnState        func(ConnState)
	OnConnectError func(*TransportError)
}

func NewConnectionManager(cfg ConnectionManagerConfig, logger *slog.Logger) *ConnectionManager {
	sched := cfg.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	return &ConnectionManager{
		dialer:         cfg.Dialer,
		sched:          sched,
		post:           cfg.Post,
		settings:       cfg.Settings,
		logger:         logger,
		onState:        cfg.OnState,
		onConnectError: cfg.OnConnectError,
	}
}

func (m *ConnectionManager) State() ConnState { return m.state }

// Attempts returns the number of reconnect attempts since the last open.
func (m *ConnectionManager) Attempts() int { return m.attempts }

func (m *ConnectionManager) setState(s ConnState) {
	if m.state == s {
		return
	}
	m.logger.Debug("connection state", "from", m.state, "to", s, "attempts", m.attempts)
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

// Connect starts an explicit connect. It is a no-op while connecting or
// open; a pending reconnect timer is replaced by the explicit attempt.
func (m *ConnectionManager) Connect(ctx context.Context) {
	switch m.state {
	case StateConnecting, StateOpen:
		m.logger.Debug("connect ignored", "state", m.state)
		return
	case StateReconnecting:
		m.stopTimer()
	}
	m.dial(ctx, true)
}

func (m *ConnectionManager) dial(ctx context.Context, explicit bool) {
	m.gen++
	gen := m.gen
	url := m.settings().ServerURL

	dctx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	m.setState(StateConnecting)

	m.logger.Info("connecting to pointer host", "url", url, "explicit", explicit, "attempt", m.attempts)

	go func() {
		t, err := m.dialer.Dial(dctx, url)
		if err != nil {
			m.post(transportOpenFailed{gen: gen, explicit: explicit, url: url, err: err})
			return
		}
		m.post(transportOpened{gen: gen, t: t})
	}()
}

// Disconnect closes the link intentionally. From a pending state it cancels
// the dial or the reconnect timer. No reconnect is scheduled afterwards.
func (m *ConnectionManager) Disconnect() error {
	switch m.state {
	case StateIdle:
		return ErrNotOpen
	case StateOpen:
		m.closeTransport()
	case StateConnecting:
		m.stopDial()
	case StateReconnecting:
		m.stopTimer()
	}

	// Invalidate anything still in flight for the previous generation.
	m.gen++
	m.setState(StateIdle)
	m.logger.Info("disconnected from pointer host")
	return nil
}

// Send writes payload if the link is open. It never panics; any failure is
// reported as false.
func (m *ConnectionManager) Send(payload string) bool {
	if m.state != StateOpen || m.transport == nil {
		return false
	}
	if err := m.transport.WriteText(payload); err != nil {
		m.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

// Handle processes internal connection events. It reports whether ev was one.
func (m *ConnectionManager) Handle(ctx context.Context, ev Event) bool {
	switch ev := ev.(type) {
	case transportOpened:
		if ev.gen != m.gen || m.state != StateConnecting {
			_ = ev.t.Close()
			return true
		}
		m.stopDial()
		m.onOpen(ev.gen, ev.t)

	case transportOpenFailed:
		if ev.gen != m.gen || m.state != StateConnecting {
			return true
		}
		m.stopDial()
		if ev.explicit {
			m.logger.Warn("connect failed", "url", ev.url, "error", ev.err)
			m.setState(StateIdle)
			if m.onConnectError != nil {
				m.onConnectError(&TransportError{Kind: TransportOpenFailure, URL: ev.url, Err: ev.err})
			}
			return true
		}
		m.logger.Warn("reconnect failed", "url", ev.url, "attempt", m.attempts, "error", ev.err)
		m.setState(StateClosed)
		m.scheduleReconnect()

	case transportFailed:
		if ev.gen != m.gen || m.state != StateOpen {
			return true
		}
		terr := &TransportError{Kind: TransportRuntimeError, URL: m.settings().ServerURL, Err: ev.err}
		m.logger.Warn("pointer host link lost", "error", terr)
		m.closeTransport()
		m.setState(StateClosed)
		m.scheduleReconnect()

	case reconnectDue:
		if ev.gen != m.gen || m.state != StateReconnecting {
			return true
		}
		m.timer = nil
		m.attempts++
		m.dial(ctx, false)

	default:
		return false
	}
	return true
}

func (m *ConnectionManager) onOpen(gen uint64, t Transport) {
	m.transport = t
	m.attempts = 0
	m.setState(StateOpen)
	m.logger.Info("connected to pointer host", "url", m.settings().ServerURL)

	s := m.settings()
	for _, msg := range []string{protocol.SpeedConfig(s.SpeedFactor), protocol.BoundsConfig(s.EnforceBounds)} {
		if !m.Send(msg) {
			m.logger.Warn("initial config send failed", "message", msg)
		}
	}

	go func() {
		// A closed channel without a value means we closed it ourselves.
		if err, ok := <-t.Done(); ok {
			m.post(transportFailed{gen: gen, err: err})
		}
	}()
}

// scheduleReconnect arms the backoff timer, or gives up once the attempt
// limit is reached. Giving up leaves the state Closed until the next
// explicit Connect.
func (m *ConnectionManager) scheduleReconnect() {
	if m.attempts >= maxReconnectAttempts {
		m.logger.Info("reconnect attempts exhausted", "attempts", m.attempts)
		return
	}

	delay := reconnectDelay(m.attempts)
	m.gen++
	gen := m.gen
	m.setState(StateReconnecting)
	m.timer = m.sched.AfterFunc(delay, func() {
		m.post(reconnectDue{gen: gen})
	})
	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", m.attempts+1)
}

func (m *ConnectionManager) closeTransport() {
	if m.transport == nil {
		return
	}
	if err := m.transport.Close(); err != nil {
		m.logger.Debug("transport close", "error", err)
	}
	m.transport = nil
}

func (m *ConnectionManager) stopDial() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

func (m *ConnectionManager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Shutdown releases the transport, dial and timer without emitting state
// changes. Used when the daemon exits.
func (m *ConnectionManager) Shutdown() {
	m.gen++
	m.stopTimer()
	m.stopDial()
	m.closeTransport()
}
