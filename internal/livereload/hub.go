// Package livereload tells connected browsers to reload when templates or
// data change. Browsers connect over a WebSocket and receive JSON messages
// such as {"type":"reload","path":"index.html"}.
package livereload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/nanorender/internal/errors"
	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/security"
)

// DefaultPath is where the hub is mounted by the preview server.
const DefaultPath = "/_live"

const (
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Message is sent to every browser.
type Message struct {
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps track of connected browsers and fans messages out to them.
//
// A single goroutine owns registration and broadcast. clients is guarded by
// clientsMutex so Clients can be read from anywhere.
type Hub struct {
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn

	origins security.OriginValidator
	logger  logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// NewHub starts a hub. Upgrade requests whose Origin header fails origins
// are refused with 403.
func NewHub(origins security.OriginValidator, logger logging.Logger) *Hub {
	if origins == nil {
		origins = security.NewOriginAllowList(nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client, 32),
		unregister: make(chan *websocket.Conn, 32),
		origins:    origins,
		logger:     logger.WithComponent("livereload"),
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and registers the browser.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if !h.origins.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), errors.ErrInvalidOrigin(origin), "Live reload connection rejected",
			"remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// Origins were checked above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	h.handleClient(c)
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMutex.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "Browser connected", "clients", total)

		case conn := <-h.unregister:
			h.remove(conn)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	c, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(c.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug(h.ctx, "Browser disconnected", "clients", total)
	}
}

func (h *Hub) fanOut(message []byte) {
	h.clientsMutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- message:
		default:
			// Slow browser. It reconnects after the reload anyway.
			h.remove(c.conn)
		}
	}
}

func (h *Hub) handleClient(c *client) {
	defer func() {
		select {
		case h.unregister <- c.conn:
		case <-h.ctx.Done():
		}
	}()

	go h.writePump(c)

	// Browsers never send anything; reading only notices the close.
	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// Broadcast queues message for every connected browser.
func (h *Hub) Broadcast(message Message) error {
	if h.isShutdown.Load() {
		return context.Canceled
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding live reload message: %w", err)
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	default:
		return fmt.Errorf("live reload queue full, dropped %q message", message.Type)
	}
}

// Reload asks every browser to reload because path changed.
func (h *Hub) Reload(path string) error {
	return h.Broadcast(Message{Type: "reload", Path: path})
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every browser and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()

		h.clientsMutex.Lock()
		for conn := range h.clients {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutdown")
		}
		h.clients = make(map[*websocket.Conn]*client)
		h.clientsMutex.Unlock()

		h.logger.Info(ctx, "Live reload hub shut down")
	})
	return nil
}
