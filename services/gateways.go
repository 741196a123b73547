package services

import (
	"context"

	"github.com/tas-support-backend/models"
)

// VectorPoint is one vector plus payload, addressed by a stable ID so
// re-upserting after a partial failure is idempotent.
type VectorPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// VectorStore is the gateway to the ANN store. One collection per tenant,
// cosine distance. Filters are equality matches on payload fields.
type VectorStore interface {
	EnsureCollection(ctx context.Context, tenantID string, dimension int) error
	CollectionExists(ctx context.Context, tenantID string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, tenantID string) error

	Upsert(ctx context.Context, tenantID string, points []VectorPoint) error
	Search(ctx context.Context, tenantID string, vector []float32, limit int, filter map[string]any) ([]models.SearchResult, error)
	// Scroll pages through points matching filter. offset is the opaque
	// cursor from the previous page; empty starts from the beginning. An
	// empty returned cursor means the scan is done.
	Scroll(ctx context.Context, tenantID string, filter map[string]any, limit int, offset string) ([]models.SearchResult, string, error)
	Count(ctx context.Context, tenantID string, filter map[string]any) (int, error)
	DeletePoints(ctx context.Context, tenantID string, filter map[string]any) (int, error)

	Healthy(ctx context.Context) error
}

// EmbeddingService converts texts to dense vectors.
type EmbeddingService interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension probes the provider once and memoizes the vector width.
	Dimension(ctx context.Context) (int, error)
	BatchSize() int
}

// LLMService is the generation gateway. Both calls return the tagged
// models.Generation shape regardless of provider.
type LLMService interface {
	Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.Generation, error)
	// GenerateStream returns a channel of deltas. The channel is closed after
	// the terminal element (Done or Err). Cancelling ctx releases the
	// provider connection.
	GenerateStream(ctx context.Context, prompt string, opts models.GenerateOptions) (<-chan models.GenerationDelta, error)
	Healthy(ctx context.Context) error
	Name() string
}

// DocumentLoader parses a file into normalized text records. Image and audio
// files are delegated to captioning/transcription and come back with a
// non-text modality.
type DocumentLoader interface {
	Load(ctx context.Context, path string, metadata map[string]any) ([]models.DocumentRecord, error)
	SupportedExtensions() []string
}
