package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

type QueryHandlers struct {
	query services.QueryService
}

func NewQueryHandlers(query services.QueryService) *QueryHandlers {
	return &QueryHandlers{query: query}
}

type queryRequest struct {
	TenantID string             `json:"tenant_id"`
	Question string             `json:"question"`
	Options  models.QueryOptions `json:"options"`
}

func (h *QueryHandlers) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	response, err := h.query.Query(c.Request.Context(), req.TenantID, req.Question, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "response": response})
}

// StreamQuery serves the answer as SSE frames: data: {"type":"token",...}
// then a terminal done or error frame.
func (h *QueryHandlers) StreamQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	chunks, err := h.query.StreamQuery(c.Request.Context(), req.TenantID, req.Question, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	writeFrame := func(frame any) {
		data, err := json.Marshal(frame)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			writeFrame(gin.H{"type": "error", "message": chunk.Err.Error()})
			return
		case chunk.Done:
			writeFrame(gin.H{"type": "done", "sources": chunk.Sources})
			return
		default:
			writeFrame(gin.H{"type": "token", "delta": chunk.Delta})
		}
	}
}

type searchRequest struct {
	TenantID string `json:"tenant_id"`
	Question string `json:"question"`
	Limit    int    `json:"limit"`
}

func (h *QueryHandlers) SemanticSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}

	results, err := h.query.SemanticSearch(c.Request.Context(), req.TenantID, req.Question, req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (h *QueryHandlers) HybridQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	response, err := h.query.HybridQuery(c.Request.Context(), req.TenantID, req.Question, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "response": response})
}

func (h *QueryHandlers) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "metrics": h.query.Metrics()})
}
