package realtime

import (
	"time"

	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// notifier adapts the hub to the conversation layer's event surface. Every
// emit is fire-and-forget; the database row is the durable record.
type notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) services.RealtimeNotifier {
	return &notifier{hub: hub}
}

func (n *notifier) EmitNewMessage(room *models.ChatRoom, msg *models.Message) {
	n.hub.Broadcast(RoomChannel(room.ID, room.ClientID), map[string]any{
		"type":    "new_message",
		"roomId":  room.ID,
		"message": msg,
	})
}

func (n *notifier) EmitTyping(room *models.ChatRoom, sender string, isTyping bool) {
	n.hub.Broadcast(RoomChannel(room.ID, room.ClientID), map[string]any{
		"type":     "typing",
		"roomId":   room.ID,
		"sender":   sender,
		"isTyping": isTyping,
	})
}

func (n *notifier) EmitSessionUpdate(room *models.ChatRoom, payload map[string]any) {
	event := map[string]any{
		"type":   "session_update",
		"roomId": room.ID,
	}
	for k, v := range payload {
		event[k] = v
	}
	n.hub.Broadcast(RoomChannel(room.ID, room.ClientID), event)
}

// MirrorToBridge forwards a conversation message, enriched with the
// collected session facts, to the tenant's agent dashboards.
func (n *notifier) MirrorToBridge(room *models.ChatRoom, msg *models.Message, entities map[string]any) {
	event := map[string]any{
		"type":      "widget_message",
		"roomId":    room.ID,
		"tenantId":  room.ClientID,
		"visitorId": room.VisitorID,
		"message":   msg,
		"entities":  entities,
		"sentAt":    time.Now().UTC(),
	}
	if room.CustomerName != nil {
		event["customerName"] = *room.CustomerName
	}
	if room.CustomerEmail != nil {
		event["customerEmail"] = *room.CustomerEmail
	}
	n.hub.Broadcast(BridgeChannel(room.ClientID), event)
}

func (n *notifier) NotifyAgentAssigned(room *models.ChatRoom, agent models.Agent) {
	event := map[string]any{
		"type":        "agent_assigned",
		"roomId":      room.ID,
		"agentName":   agent.Name,
		"agentSource": string(agent.Source),
	}
	n.hub.Broadcast(RoomChannel(room.ID, room.ClientID), event)
	n.hub.Broadcast(BridgeChannel(room.ClientID), event)
}
