package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/esiebomaj/commander/internal/actions"
	"github.com/esiebomaj/commander/internal/storage"
)

const (
	hubSendBuffer   = 16
	hubWriteTimeout = 10 * time.Second
	hubPingInterval = 30 * time.Second
)

// StreamEvent is the message pushed to stream clients.
type StreamEvent struct {
	Event        string               `json:"event"`
	Action       ActionView           `json:"action"`
	Notification actions.Notification `json:"notification"`
}

// Hub fans newly proposed actions out to websocket clients. It implements
// actions.Notifier. A slow client drops messages instead of blocking the
// pipeline.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan StreamEvent
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		// Clients are authenticated by token, not by origin.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		clients:  make(map[*hubClient]struct{}),
	}
}

// NotifyNewAction queues the action for every connected client.
func (h *Hub) NotifyNewAction(_ context.Context, a storage.Action) error {
	ev := StreamEvent{Event: "action.proposed", Action: NewActionView(a), Notification: actions.NewNotification(a)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("stream client too slow, dropping event", "action_id", a.ID)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan StreamEvent, hubSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "remote", r.RemoteAddr)

	go h.readLoop(c)
	h.writeLoop(c)

	h.remove(c)
	conn.Close()
	h.logger.Debug("stream client disconnected", "remote", r.RemoteAddr)
}

// readLoop discards client messages and closes send once the peer hangs up.
func (h *Hub) readLoop(c *hubClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ping := time.NewTicker(hubPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(hubWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
