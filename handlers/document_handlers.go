package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

type DocumentHandlers struct {
	ingestion services.IngestionService
	tenants   services.TenantService
}

func NewDocumentHandlers(ingestion services.IngestionService, tenants services.TenantService) *DocumentHandlers {
	return &DocumentHandlers{ingestion: ingestion, tenants: tenants}
}

// saveUpload spools one multipart file to a temp path. Callers must remove
// the file when indexing finishes, success or not.
func saveUpload(c *gin.Context, field string) (string, error) {
	file, err := c.FormFile(field)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(os.TempDir(), fmt.Sprintf("upload_%d_%s", os.Getpid(), filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return dst, nil
}

func (h *DocumentHandlers) Upload(c *gin.Context) {
	tenantID := c.PostForm("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id is required")
		return
	}

	path, err := saveUpload(c, "file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			log.Printf("[INGEST] Failed to remove temp upload %s: %v", path, err)
		}
	}()

	metadata := map[string]any{}
	if docID := c.PostForm("document_id"); docID != "" {
		metadata["document_id"] = docID
	}

	var events []models.ProgressEvent
	result, err := h.ingestion.IndexDocument(c.Request.Context(), path, tenantID, metadata, func(e models.ProgressEvent) {
		events = append(events, e)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result, "progress": events})
}

func (h *DocumentHandlers) BatchUpload(c *gin.Context) {
	tenantID := c.PostForm("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id is required")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form is required")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		badRequest(c, "at least one file is required")
		return
	}

	paths := make([]string, 0, len(files))
	defer func() {
		for _, p := range paths {
			if err := os.Remove(p); err != nil {
				log.Printf("[INGEST] Failed to remove temp upload %s: %v", p, err)
			}
		}
	}()
	for _, file := range files {
		dst := filepath.Join(os.TempDir(), fmt.Sprintf("upload_%d_%s", os.Getpid(), filepath.Base(file.Filename)))
		if err := c.SaveUploadedFile(file, dst); err != nil {
			respondError(c, fmt.Errorf("failed to save upload %s: %w", file.Filename, err))
			return
		}
		paths = append(paths, dst)
	}

	results, err := h.ingestion.IndexMultiple(c.Request.Context(), paths, tenantID, nil, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (h *DocumentHandlers) Delete(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	documentID := c.Query("document_id")

	deleted, err := h.ingestion.DeleteDocuments(c.Request.Context(), tenantID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

func (h *DocumentHandlers) Stats(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	stats, err := h.tenants.GetStats(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"tenant_id":       stats.TenantID,
		"document_count":  stats.DocumentCount,
		"chunk_count":     stats.ChunkCount,
		"collection_name": stats.CollectionName,
		"last_updated":    stats.LastUpdated,
	})
}
