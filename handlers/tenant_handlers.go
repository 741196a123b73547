package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tas-support-backend/services"
)

type TenantHandlers struct {
	tenants services.TenantService
}

func NewTenantHandlers(tenants services.TenantService) *TenantHandlers {
	return &TenantHandlers{tenants: tenants}
}

func (h *TenantHandlers) List(c *gin.Context) {
	tenants, err := h.tenants.ListTenants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tenants": tenants})
}

func (h *TenantHandlers) Get(c *gin.Context) {
	stats, err := h.tenants.GetStats(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// Delete wipes every chunk for the tenant. Requires ?confirm=true.
func (h *TenantHandlers) Delete(c *gin.Context) {
	confirm := c.Query("confirm") == "true"
	result, err := h.tenants.DeleteTenant(c.Request.Context(), c.Param("tenant_id"), confirm)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}
