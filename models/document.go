package models

import "time"

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// Progress stages emitted during indexing, in pipeline order.
const (
	StageChecking   = "checking"
	StagePreparing  = "preparing"
	StageProcessing = "processing"
	StageEmbedding  = "embedding"
	StageStoring    = "storing"
	StageComplete   = "complete"
	StageError      = "error"
)

// ProgressEvent is emitted to the caller-supplied callback while a document
// is being indexed. Progress is monotonic in [0,100] for a successful run.
type ProgressEvent struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type ProgressFunc func(ProgressEvent)

// DocumentRecord is a loader-normalized piece of source content before
// chunking. One file may yield several records (e.g. CSV rows, PDF pages).
type DocumentRecord struct {
	Text     string         `json:"text"`
	Modality Modality       `json:"modality"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk is the atomic unit of retrieval. Payload always carries the owning
// tenant, enforced at upsert time.
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	TenantID   string         `json:"tenant_id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
}

// IndexResult summarizes one indexDocument run.
type IndexResult struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
	FilePath   string `json:"file_path,omitempty"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	Chunks     int    `json:"chunks"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// TenantStats is the per-tenant document inventory.
type TenantStats struct {
	TenantID       string     `json:"tenant_id"`
	DocumentCount  int        `json:"document_count"`
	ChunkCount     int        `json:"chunk_count"`
	CollectionName string     `json:"collection_name"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}

// TenantInfo is a row of the tenant enumeration.
type TenantInfo struct {
	TenantID   string `json:"tenant_id"`
	ChunkCount int    `json:"chunk_count"`
}

// TenantDeleteResult reports a bulk tenant deletion.
type TenantDeleteResult struct {
	TenantID      string `json:"tenant_id"`
	PointsDeleted int    `json:"points_deleted"`
}
