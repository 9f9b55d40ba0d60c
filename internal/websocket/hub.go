package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lechieutung2003/cleanzy-app/internal/events"
)

// Hub routes payment events to live connections. Every connection belongs to
// two groups: the group scoped to its order id and the global broadcast
// group. Group membership is purely in-memory and dies with the connection.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	publish    chan events.Event
	clients    map[string]map[*Client]bool
	broadcast  map[*Client]bool
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan events.Event, 64),
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
			h.broadcast[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.orderID]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.clients, c.orderID)
				}
			}
			if h.broadcast[c] {
				delete(h.broadcast, c)
				c.close()
			}
		case evt := <-h.publish:
			h.deliver(evt)
		case <-ctx.Done():
			for c := range h.broadcast {
				c.close()
			}
			return
		}
	}
}

// Publish implements events.Publisher. Delivery is best effort: when the hub
// is saturated the event is dropped with a warning instead of blocking or
// failing the business operation that produced it.
func (h *Hub) Publish(_ context.Context, evt events.Event) {
	select {
	case h.publish <- evt:
	default:
		h.logger.Warn("websocket hub saturated, event dropped", "event", string(evt.Type), "order_id", evt.OrderID)
	}
}

func (h *Hub) deliver(evt events.Event) {
	msg, err := json.Marshal(updateMessage{
		Type:  "payment_update",
		Event: string(evt.Type),
		Data:  evt,
	})
	if err != nil {
		h.logger.Error("marshal payment update", "err", err)
		return
	}

	// Union of the order-scoped group and the broadcast group: a client
	// subscribed through both still receives exactly one copy.
	recipients := make(map[*Client]bool, len(h.broadcast))
	for c := range h.broadcast {
		recipients[c] = true
	}
	for c := range h.clients[evt.OrderID] {
		recipients[c] = true
	}

	for c := range recipients {
		if !c.enqueue(msg) {
			h.drop(c)
		}
	}
}

// drop evicts a client whose send buffer is full.
func (h *Hub) drop(c *Client) {
	if set, ok := h.clients[c.orderID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.orderID)
		}
	}
	if h.broadcast[c] {
		delete(h.broadcast, c)
	}
	c.close()
}

type updateMessage struct {
	Type  string       `json:"type"`
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}
