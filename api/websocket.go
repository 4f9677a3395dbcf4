package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"devicemirror/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local clients only
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Client is one event-stream connection. With no subscriptions it
// receives every event; after a subscribe it only receives session
// events for the devices it named. devices-updated always goes out.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	subscribed map[string]bool
}

func (c *Client) wants(ev models.Event) bool {
	if ev.Type == models.EventDevicesUpdated || ev.DeviceID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribed) == 0 || c.subscribed["all"] || c.subscribed[ev.DeviceID]
}

type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("component", "websocket"),
	}
}

// Run registers clients and forwards events until ctx is done or the
// event channel closes.
func (h *WebSocketHub) Run(ctx context.Context, events <-chan models.Event) {
	defer func() {
		close(h.done)
		h.closeAll()
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client disconnected", "total", total)

		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

func (h *WebSocketHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast sends ev to every interested client, skipping clients whose
// queue is full.
func (h *WebSocketHub) Broadcast(ev models.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if !client.wants(ev) {
			continue
		}
		select {
		case client.send <- message:
			sent++
		default:
			h.logger.Warn("⚠️ Client channel full, skipping event", "type", ev.Type)
		}
	}
	h.logger.Debug("📡 Event sent", "type", ev.Type, "device", ev.DeviceID, "clients", sent, "total", len(h.clients))
}

// ClientCount returns the number of registered clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		subscribed: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

type clientMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// readPump handles subscription messages from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket error", "error", err)
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.DeviceID == "" {
			continue
		}
		c.mu.Lock()
		switch msg.Type {
		case "subscribe":
			c.subscribed[msg.DeviceID] = true
		case "unsubscribe":
			delete(c.subscribed, msg.DeviceID)
		}
		c.mu.Unlock()
		c.hub.logger.Debug("Subscription changed", "type", msg.Type, "device", msg.DeviceID)
	}
}

// writePump sends queued events and keepalive pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
