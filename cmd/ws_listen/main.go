package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"gyromouse/internal/protocol"
)

// ws_listen is a stand-in pointer host. It accepts gyromouse connections,
// decodes every frame and drives a virtual cursor, logging what a real host
// would do. Useful for checking the daemon end to end without a desktop.

// cursor is a virtual pointer on a fixed-size screen.
type cursor struct {
	mu sync.Mutex

	width, height int
	x, y          int

	speed   float64
	bounds  bool
	silent  bool
	buttons map[protocol.Button]protocol.ButtonState

	// stabilization options as last received; the virtual cursor does not
	// filter with them.
	stabilization map[string]string
}

func newCursor(width, height int) *cursor {
	return &cursor{
		width:   width,
		height:  height,
		x:       width / 2,
		y:       height / 2,
		speed:   1.0,
		bounds:  true,
		buttons: make(map[protocol.Button]protocol.ButtonState),

		stabilization: make(map[string]string),
	}
}

// apply executes one decoded message.
func (c *cursor) apply(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Kind {
	case protocol.KindMove:
		adjX := int(float64(m.DX) * c.speed)
		adjY := int(float64(m.DY) * c.speed)
		c.x += adjX
		c.y += adjY
		if c.bounds {
			c.x = clamp(c.x, 0, c.width-1)
			c.y = clamp(c.y, 0, c.height-1)
		}
		if !c.silent {
			log.Printf("[MOVE] to %d,%d (delta %d,%d, adjusted %d,%d)", c.x, c.y, m.DX, m.DY, adjX, adjY)
		}

	case protocol.KindClick:
		if !c.silent {
			log.Printf("[CLICK] %s at %d,%d", m.Click, c.x, c.y)
		}

	case protocol.KindButton:
		c.buttons[m.Button] = m.State
		if !c.silent {
			log.Printf("[BUTTON] %s %s", m.Button, m.State)
		}

	case protocol.KindConfig:
		switch m.Key {
		case protocol.ConfigSpeed:
			c.speed, _ = strconv.ParseFloat(m.Value, 64)
		case protocol.ConfigBounds:
			c.bounds, _ = strconv.ParseBool(m.Value)
		case protocol.ConfigSilent:
			c.silent, _ = strconv.ParseBool(m.Value)
		}
		log.Printf("[CONFIG] %s=%s", m.Key, m.Value)

	case protocol.KindStabilize:
		c.stabilization[m.Key] = m.Value
		log.Printf("[STABILIZE] %s=%s", m.Key, m.Value)
	}
}

func (c *cursor) position() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveConn(cur *cursor, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("connection from %s", r.RemoteAddr)

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
		if typ != websocket.TextMessage {
			log.Printf("[BINARY] %d bytes ignored", len(msg))
			continue
		}

		m, err := protocol.Parse(string(msg))
		if err != nil {
			log.Printf("[INVALID] %q: %v", msg, err)
			continue
		}
		cur.apply(m)
	}

	x, y := cur.position()
	log.Printf("connection from %s closed (cursor at %d,%d)", r.RemoteAddr, x, y)
}

func main() {
	var (
		listen = flag.String("listen", ":8080", "Listen address")
		path   = flag.String("path", "/ws", "WebSocket path")
		width  = flag.Int("width", 1920, "Virtual screen width")
		height = flag.Int("height", 1080, "Virtual screen height")
	)
	flag.Parse()

	cur := newCursor(*width, *height)

	mux := http.NewServeMux()
	mux.HandleFunc(*path, func(w http.ResponseWriter, r *http.Request) {
		serveConn(cur, w, r)
	})

	srv := &http.Server{Addr: *listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Printf("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("pointer host listening on %s%s (screen %dx%d)", *listen, *path, *width, *height)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
}
