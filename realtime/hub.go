package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Hub tracks WebSocket connections and their channel subscriptions. Widget
// clients subscribe to their room channel; agent dashboards subscribe to the
// tenant bridge channel. Delivery is best-effort: a slow or dead socket is
// dropped, never waited on past the write timeout.
type Hub struct {
	connections map[string]*connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	writeTimeout time.Duration
}

type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// clientMessage is what widget and dashboard clients send upstream.
type clientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Typing  bool   `json:"typing,omitempty"`
}

func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// RoomChannel is the per-conversation channel name.
func RoomChannel(roomID uint, tenantID string) string {
	return fmt.Sprintf("room_%d_%s", roomID, tenantID)
}

// BridgeChannel is the per-tenant channel agent dashboards subscribe to.
func BridgeChannel(tenantID string) string {
	return fmt.Sprintf("bridge_%s", tenantID)
}

// HandleConnection runs the read loop for one socket. Blocks until the
// connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] Invalid message from %s: %v", c.id, err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

func (h *Hub) handleClientMessage(c *connection, msg *clientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		h.subscribe(c, msg.Channel)
		h.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
	case "unsubscribe":
		if msg.Channel != "" {
			h.unsubscribe(c, msg.Channel)
		}
	case "typing":
		// Relay customer/agent typing to the other room subscribers.
		if msg.Channel != "" {
			h.Broadcast(msg.Channel, map[string]any{
				"type":     "typing",
				"sender":   msg.Sender,
				"isTyping": msg.Typing,
			})
		}
	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (h *Hub) subscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (h *Hub) unsubscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// Broadcast fans an event out to every subscriber of the channel.
func (h *Hub) Broadcast(channel string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to marshal event for %s: %v", channel, err)
		return
	}

	h.channelMu.RLock()
	ids := make([]string, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		ids = append(ids, id)
	}
	h.channelMu.RUnlock()

	// Snapshot pointers before sending so slow writes never hold the lock.
	h.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			log.Printf("[WS] Dropping send to %s on %s: %v", c.id, channel, err)
		}
	}
}

// Subscribers reports the subscriber count for a channel.
func (h *Hub) Subscribers(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

// ActiveConnections reports the total open sockets.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *connection) {
	for channel := range c.subscriptions {
		h.unsubscribe(c, channel)
	}
	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		log.Printf("[WS] Failed to send to %s: %v", c.id, err)
	}
}

func (h *Hub) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
