package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"

	"github.com/lechieutung2003/cleanzy-app/internal/order"
)

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusSource answers request_status messages from local state.
type StatusSource interface {
	OrderStatus(ctx context.Context, orderID uuid.UUID) (order.Status, error)
}

type Client struct {
	hub     *Hub
	conn    *gw.Conn
	send    chan []byte
	orderID string
	status  StatusSource
	logger  *slog.Logger

	// mu guards send against a concurrent close: the read goroutine and the
	// hub both enqueue, and the hub tears the channel down on unregister.
	mu     sync.Mutex
	closed bool
}

// enqueue hands a frame to the write pump. It reports false when the client
// is closed or its buffer is full; it never blocks and never panics on a
// torn-down channel.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type Handler struct {
	hub    *Hub
	status StatusSource
	logger *slog.Logger
}

func NewHandler(hub *Hub, status StatusSource, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, status: status, logger: logger}
}

// ServeWS upgrades the connection, joins it to the order-scoped group and
// the broadcast group and acknowledges the subscription. No ownership check
// is made on the order id; the transport is deliberately unauthenticated.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	if orderID == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		orderID: orderID,
		status:  h.status,
		logger:  h.logger,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	client.sendJSON(map[string]any{
		"type":     "connection_established",
		"message":  "Connected to payment updates for order " + orderID,
		"order_id": orderID,
	})
}

type clientMessage struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendJSON(map[string]any{"type": "error", "message": "invalid JSON format"})
		return
	}

	switch msg.Type {
	case "ping":
		c.sendJSON(map[string]any{"type": "pong", "timestamp": msg.Timestamp})
	case "request_status":
		c.sendStatus()
	default:
		c.logger.Debug("unknown client message", "type", msg.Type, "order_id", c.orderID)
	}
}

func (c *Client) sendStatus() {
	id, err := uuid.Parse(c.orderID)
	if err != nil {
		c.sendJSON(map[string]any{"type": "error", "message": "invalid order id"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.status.OrderStatus(ctx, id)
	if err != nil {
		c.sendJSON(map[string]any{"type": "error", "message": "order not found"})
		return
	}
	c.sendJSON(map[string]any{
		"type":     "status_response",
		"order_id": c.orderID,
		"status":   string(status),
	})
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
