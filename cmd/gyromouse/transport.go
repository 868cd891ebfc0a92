package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open text-frame link to the pointer host.
type Transport interface {
	// WriteText sends a single text frame.
	WriteText(msg string) error

	// Done delivers the first runtime failure (read error, missed pong,
	// write error) and is then closed. A Close before any failure closes it
	// without a value.
	Done() <-chan error

	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialerConfig controls handshake and keepalive behavior.
type WSDialerConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
}

type wsDialer struct {
	cfg    WSDialerConfig
	logger *slog.Logger
}

// NewWSDialer returns a gorilla/websocket backed Dialer.
func NewWSDialer(cfg WSDialerConfig, logger *slog.Logger) Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeoutMS * time.Millisecond
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingIntervalMS * time.Millisecond
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeoutMS * time.Millisecond
	}
	return &wsDialer{cfg: cfg, logger: logger}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   d.cfg.HandshakeTimeout,
			KeepAlive: 15 * time.Second,
		}).DialContext,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	w := &wsConn{
		conn:   conn,
		done:   make(chan struct{}),
		errC:   make(chan error, 1),
		logger: d.logger,
	}

	// Reading is required to process pong and close frames.
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.cfg.PongTimeout))
	})

	go w.readLoop()
	go w.pingLoop(d.cfg.PingInterval)
	return w, nil
}

// wsConn wraps a gorilla connection with a ping ticker and a reader that
// drains inbound frames.
type wsConn struct {
	mu   sync.Mutex // serializes writers
	conn *websocket.Conn

	closeOnce  sync.Once
	finishOnce sync.Once
	done       chan struct{}
	errC       chan error

	logger *slog.Logger
}

const transportWriteWait = 5 * time.Second

func (w *wsConn) WriteText(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		w.fail(fmt.Errorf("write: %w", err))
		return err
	}
	return nil
}

func (w *wsConn) Done() <-chan error { return w.errC }

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.mu.Unlock()

		err = w.conn.Close()
		w.finish(nil)
	})
	return err
}

// fail records the first runtime error unless the connection was closed locally.
func (w *wsConn) fail(err error) {
	select {
	case <-w.done:
		return
	default:
	}
	w.finish(err)
}

func (w *wsConn) finish(err error) {
	w.finishOnce.Do(func() {
		if err != nil {
			w.errC <- err
		}
		close(w.errC)
	})
}

func (w *wsConn) readLoop() {
	for {
		// Inbound frames carry no protocol; drop them.
		_, _, err := w.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				w.logger.Debug("pointer host closed link", "code", ce.Code, "reason", ce.Text)
			}
			w.fail(fmt.Errorf("read: %w", err))
			return
		}
	}
}

func (w *wsConn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.mu.Lock()
			_ = w.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				w.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
