package models

// QueryRoute is the classifier verdict for an incoming question.
type QueryRoute string

const (
	RouteGreeting QueryRoute = "greeting"
	RouteVector   QueryRoute = "vector"
)

// QueryOptions tunes a single query. History and Context are injected into
// the prompt; neither is required.
type QueryOptions struct {
	TopK       int            `json:"top_k,omitempty"`
	PromptType string         `json:"prompt_type,omitempty"` // defaults to "support"
	History    []Message      `json:"history,omitempty"`
	Context    map[string]any `json:"context,omitempty"` // collected_entities
	MinScore   float64        `json:"min_score,omitempty"`
}

// QuerySource identifies a retrieved chunk cited in an answer.
type QuerySource struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

// TokenUsage reports token accounting for one generation. Estimated is true
// when the provider did not supply counts and ceil(len/4) was used.
type TokenUsage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Estimated    bool `json:"estimated,omitempty"`
}

// QueryResponse is the tagged answer shape. Every layer above the LLM
// gateway sees exactly this, never a provider-specific body.
type QueryResponse struct {
	Text       string        `json:"text"`
	Sources    []QuerySource `json:"sources"`
	Confidence *int          `json:"confidence,omitempty"` // round(max score * 100)
	Usage      *TokenUsage   `json:"usage,omitempty"`
	Intent     string        `json:"intent,omitempty"`
	LatencyMs  int64         `json:"latency_ms"`
	Cached     bool          `json:"cached"`
	SearchType string        `json:"search_type,omitempty"`
}

// SearchResult is one semantic search hit. Score is cosine similarity in [0,1].
type SearchResult struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StreamChunk is one element of a streaming query. Exactly one terminal chunk
// is delivered: either Done with final Sources, or Err.
type StreamChunk struct {
	Delta   string        `json:"delta,omitempty"`
	Sources []QuerySource `json:"sources,omitempty"`
	Done    bool          `json:"done,omitempty"`
	Err     error         `json:"-"`
}

// Generation is the tagged LLM gateway result.
type Generation struct {
	Text         string     `json:"text"`
	Model        string     `json:"model"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// GenerationDelta is one element of a streaming generation.
type GenerationDelta struct {
	Text string
	Done bool
	Err  error
}

// GenerateOptions are per-call generation knobs; zero values fall back to the
// provider config.
type GenerateOptions struct {
	Temperature     *float64
	MaxOutputTokens int
}

// QueryMetricsSnapshot is the rolled-up query counters over the sliding
// latency window (capped at 1000 samples).
type QueryMetricsSnapshot struct {
	Total        int64   `json:"total"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
