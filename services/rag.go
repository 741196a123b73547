package services

import (
	"context"

	"github.com/tas-support-backend/models"
)

// IngestionService runs the document indexing pipeline: load, chunk, embed in
// batches, persist to the tenant collection. Calls are bounded by a
// process-wide job budget and a per-job timeout.
type IngestionService interface {
	IndexDocument(ctx context.Context, path, tenantID string, metadata map[string]any, onProgress models.ProgressFunc) (*models.IndexResult, error)
	IndexMultiple(ctx context.Context, paths []string, tenantID string, metadata map[string]any, onProgress models.ProgressFunc) ([]models.IndexResult, error)
	// DeleteDocuments removes chunks for one document, or the whole tenant's
	// chunks when documentID is empty. Returns the number of points removed.
	DeleteDocuments(ctx context.Context, tenantID, documentID string) (int, error)
	PurgeChunkCache(tenantID, documentID string) error
}

// QueryService answers questions grounded in the tenant's documents.
type QueryService interface {
	Query(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error)
	// StreamQuery bypasses the answer cache. The returned channel is closed
	// after a terminal chunk (Done or Err).
	StreamQuery(ctx context.Context, tenantID, question string, opts models.QueryOptions) (<-chan models.StreamChunk, error)
	SemanticSearch(ctx context.Context, tenantID, question string, limit int) ([]models.SearchResult, error)
	// HybridQuery currently delegates to the vector path; a structured
	// retrieval source may join it behind this call later.
	HybridQuery(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error)
	Classify(question string) models.QueryRoute
	Metrics() models.QueryMetricsSnapshot
}

// TenantService is the admin surface over the vector store.
type TenantService interface {
	ListTenants(ctx context.Context) ([]models.TenantInfo, error)
	GetStats(ctx context.Context, tenantID string) (*models.TenantStats, error)
	// DeleteTenant refuses without confirm.
	DeleteTenant(ctx context.Context, tenantID string, confirm bool) (*models.TenantDeleteResult, error)
}
