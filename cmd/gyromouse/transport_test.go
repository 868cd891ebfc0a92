package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pointerHostStub accepts one WebSocket client and records text frames.
type pointerHostStub struct {
	srv      *httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func newPointerHostStub(t *testing.T) *pointerHostStub {
	t.Helper()
	p := &pointerHostStub{
		received: make(chan string, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	up := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- conn
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.TextMessage {
				p.received <- string(msg)
			}
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *pointerHostStub) URL() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/ws"
}

func testDialer() Dialer {
	return NewWSDialer(WSDialerConfig{
		HandshakeTimeout: time.Second,
		PingInterval:     50 * time.Millisecond,
		PongTimeout:      time.Second,
	}, testLogger())
}

func TestWSTransport_WriteText(t *testing.T) {
	host := newPointerHostStub(t)

	tr, err := testDialer().Dial(context.Background(), host.URL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	for _, msg := range []string{"config:speed=2", "-6,0", "click:left"} {
		if err := tr.WriteText(msg); err != nil {
			t.Fatalf("WriteText(%q): %v", msg, err)
		}
		select {
		case got := <-host.received:
			if got != msg {
				t.Fatalf("host got %q, want %q", got, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("host did not receive %q", msg)
		}
	}
}

func TestWSTransport_RemoteCloseReportsFailure(t *testing.T) {
	host := newPointerHostStub(t)

	tr, err := testDialer().Dial(context.Background(), host.URL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	conn := <-host.conns
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	_ = conn.Close()

	select {
	case err, ok := <-tr.Done():
		if !ok || err == nil {
			t.Fatalf("expected a failure value, got ok=%v err=%v", ok, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("remote close not reported")
	}
}

func TestWSTransport_LocalCloseHasNoFailure(t *testing.T) {
	host := newPointerHostStub(t)

	tr, err := testDialer().Dial(context.Background(), host.URL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-host.conns

	_ = tr.Close()
	select {
	case err, ok := <-tr.Done():
		if ok {
			t.Fatalf("local close delivered a failure: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Done not closed after local Close")
	}

	if err := tr.WriteText("1,1"); err == nil {
		t.Fatalf("write after close should fail")
	}
	// Close is idempotent.
	_ = tr.Close()
}

func TestWSDialer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	if _, err := testDialer().Dial(context.Background(), url); err == nil {
		t.Fatalf("expected dial error")
	}
}
