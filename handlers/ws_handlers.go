package handlers

import (
	"log"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/tas-support-backend/realtime"
)

type WSHandlers struct {
	hub            *realtime.Hub
	allowedOrigins []string
}

func NewWSHandlers(hub *realtime.Hub, allowedOrigins []string) *WSHandlers {
	return &WSHandlers{hub: hub, allowedOrigins: allowedOrigins}
}

// Connect upgrades the request and hands the socket to the hub. Blocks for
// the connection's lifetime.
func (h *WSHandlers) Connect(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	h.hub.HandleConnection(c.Request.Context(), conn)
}
