package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/events"
	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Frame is the message shape pushed to dashboard clients. Type mirrors
// the bus event types: agent_update, trade_update, regime_change, alert.
type Frame struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client represents one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active WebSocket clients and fans frames out to them.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a WebSocket hub. Call Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			log.Info().Int("total_clients", total).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			log.Info().Int("total_clients", total).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full, drop it
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes one frame to every connected client.
func (h *Hub) Broadcast(frameType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msgBytes, err := json.Marshal(Frame{
		Type:      frameType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	})
	if err != nil {
		return err
	}
	h.broadcast <- msgBytes
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BridgeBus subscribes the hub to every bus subject so hunters, the
// orchestrator, and the executors reach dashboards without knowing the
// websocket layer exists. Returns the subscription for teardown.
func (h *Hub) BridgeBus(bus *events.Bus) (*events.Subscription, error) {
	return bus.SubscribeAll(func(evt *events.Event) error {
		msgBytes, err := json.Marshal(Frame{
			Type:      evt.Type,
			Timestamp: evt.Timestamp,
			Data:      evt.Data,
		})
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- msgBytes:
		default:
			// Broadcast backlog full; dashboards are best-effort
		}
		return nil
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is CORS-open; the websocket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the gin handler that upgrades /ws connections.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		client := &Client{hub: h, conn: conn, send: make(chan []byte, 64)}
		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump consumes client messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump drains the send queue to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers application-level pings; everything else is
// logged and ignored.
func (c *Client) handleMessage(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Debug().Err(err).Msg("Unparseable client message")
		return
	}

	switch frame.Type {
	case "ping":
		c.sendPong()
	default:
		log.Debug().Str("type", frame.Type).Msg("Received client message")
	}
}

func (c *Client) sendPong() {
	msgBytes, err := json.Marshal(Frame{
		Type:      "pong",
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{}`),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msgBytes:
	default:
		// Send channel is full
	}
}
