package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Hub fans status snapshots out to websocket clients.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
	count      atomic.Int64
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an idle hub. Call Run to start serving clients.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*client]bool),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:     logger,
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Run serves the hub until ctx is done. When every is positive, snapshot is
// broadcast at that period.
func (h *Hub) Run(ctx context.Context, every time.Duration, snapshot func() any) {
	var tick <-chan time.Time
	if every > 0 && snapshot != nil {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			h.fanout(msg)
		case <-tick:
			if len(h.clients) == 0 {
				continue
			}
			msg, err := json.Marshal(snapshot())
			if err != nil {
				h.logger.Warn("status encode failed", zap.Error(err))
				continue
			}
			h.fanout(msg)
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.count.Add(-1)
	}
}

func (h *Hub) fanout(msg []byte) {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// slow reader
			h.drop(c)
		}
	}
}

// BroadcastJSON queues v for every client. It never blocks.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("broadcast encode failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 32)}
	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readPump discards client messages and unregisters on disconnect.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(writeWait):
		}
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
