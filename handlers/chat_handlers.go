package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

type ChatHandlers struct {
	store        services.SessionStore
	conversation services.ConversationService
	directory    services.AgentDirectory
}

func NewChatHandlers(store services.SessionStore, conversation services.ConversationService, directory services.AgentDirectory) *ChatHandlers {
	return &ChatHandlers{store: store, conversation: conversation, directory: directory}
}

type sessionRequest struct {
	ClientID     string `json:"clientId"`
	ProductID    string `json:"productId"`
	SessionToken string `json:"sessionToken"`
	VisitorID    string `json:"visitorId"`
	RoomID       uint   `json:"roomId"`
}

func (r *sessionRequest) tenant() string {
	if r.ClientID != "" {
		return r.ClientID
	}
	return r.ProductID
}

// StartSession resolves or creates the visitor's room and returns its
// history so a reloaded widget resumes the conversation.
func (h *ChatHandlers) StartSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	tenantID := req.tenant()
	if tenantID == "" {
		badRequest(c, "clientId is required")
		return
	}
	if req.VisitorID == "" {
		req.VisitorID = uuid.NewString()
	}

	room, isNew, err := h.store.ResolveSession(c.Request.Context(), tenantID, req.SessionToken, req.VisitorID)
	if err != nil {
		respondError(c, err)
		return
	}

	messages, err := h.store.History(c.Request.Context(), tenantID, room.ID, 0)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"roomId":       room.ID,
		"messages":     messages,
		"isNewSession": isNew,
		"sessionToken": room.SessionToken,
		"visitorId":    room.VisitorID,
	})
}

type messageRequest struct {
	ClientID string `json:"clientId"`
	RoomID   uint   `json:"roomId"`
	Content  string `json:"content"`
}

// PostMessage runs one customer turn. The response is either the AI answer
// with sources or a handover verdict.
func (h *ChatHandlers) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.ClientID == "" || req.RoomID == 0 || req.Content == "" {
		badRequest(c, "clientId, roomId and content are required")
		return
	}

	result, err := h.conversation.ProcessMessage(c.Request.Context(), req.ClientID, req.RoomID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Handover != nil && result.AIMessage == nil {
		response := gin.H{
			"success":  true,
			"handover": true,
			"reason":   result.Handover.Reason,
			"queued":   result.Handover.Queued,
		}
		if result.Handover.AssignedAgent != nil {
			response["assignedAgent"] = result.Handover.AssignedAgent
		}
		if result.Handover.Queued {
			position, waiting := h.directory.QueuePosition(req.ClientID, req.RoomID)
			response["queuePosition"] = position
			response["queueLength"] = waiting
		}
		c.JSON(http.StatusOK, response)
		return
	}

	response := gin.H{"success": true, "message": result.AIMessage, "sources": result.Sources}
	if result.Handover != nil {
		response["handover"] = true
		response["reason"] = result.Handover.Reason
	}
	c.JSON(http.StatusOK, response)
}

func (h *ChatHandlers) GetHistory(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("roomId"), 10, 32)
	if err != nil {
		badRequest(c, "invalid roomId")
		return
	}
	tenantID := c.Query("clientId")
	if tenantID == "" {
		badRequest(c, "clientId is required")
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	messages, err := h.store.History(c.Request.Context(), tenantID, uint(roomID), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

func (h *ChatHandlers) GetConversations(c *gin.Context) {
	tenantID := c.Param("clientId")
	visitorID := c.Query("visitorId")
	if visitorID == "" {
		badRequest(c, "visitorId is required")
		return
	}

	summaries, err := h.store.Conversations(c.Request.Context(), tenantID, visitorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversations": summaries})
}

type roomRequest struct {
	ClientID string `json:"clientId"`
	RoomID   uint   `json:"roomId"`
}

func (h *ChatHandlers) Escalate(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.ClientID == "" || req.RoomID == 0 {
		badRequest(c, "clientId and roomId are required")
		return
	}

	result, err := h.conversation.Escalate(c.Request.Context(), req.ClientID, req.RoomID)
	if err != nil {
		respondError(c, err)
		return
	}

	response := gin.H{"success": true, "reason": result.Reason, "queued": result.Queued}
	if result.AssignedAgent != nil {
		response["assignedAgent"] = result.AssignedAgent
	}
	if result.Queued {
		position, waiting := h.directory.QueuePosition(req.ClientID, req.RoomID)
		response["queuePosition"] = position
		response["queueLength"] = waiting
	}
	c.JSON(http.StatusOK, response)
}

func (h *ChatHandlers) CloseConversation(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.ClientID == "" || req.RoomID == 0 {
		badRequest(c, "clientId and roomId are required")
		return
	}

	if err := h.conversation.CloseConversation(c.Request.Context(), req.ClientID, req.RoomID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "closed": true})
}

type agentMessageRequest struct {
	ClientID string `json:"clientId"`
	RoomID   uint   `json:"roomId"`
	AgentID  uint   `json:"agentId"`
	Content  string `json:"content"`
}

func (h *ChatHandlers) PostAgentMessage(c *gin.Context) {
	var req agentMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.ClientID == "" || req.RoomID == 0 || req.AgentID == 0 || req.Content == "" {
		badRequest(c, "clientId, roomId, agentId and content are required")
		return
	}

	msg, err := h.conversation.PostAgentMessage(c.Request.Context(), req.ClientID, req.RoomID, req.AgentID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// ListAvailableAgents backs the agent dashboard's presence view.
func (h *ChatHandlers) ListAvailableAgents(c *gin.Context) {
	tenantID := c.Query("clientId")
	if tenantID == "" {
		badRequest(c, "clientId is required")
		return
	}
	agents, err := h.directory.ListAvailable(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agents": agents})
}
