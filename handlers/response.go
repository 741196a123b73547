package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tas-support-backend/services/impl"
)

// respondError maps service errors onto the response envelope. Validation
// errors carry their field and always mean 400; not-found text maps to 404;
// everything else is a 500 with the message preserved.
func respondError(c *gin.Context, err error) {
	var ve impl.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": ve.Message, "field": ve.Field})
		return
	}
	var ves impl.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": ves.Error(), "field": ves[0].Field})
		return
	}
	if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "unknown tenant") {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}
