package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
	"golang.org/x/sync/semaphore"
)

// queryServiceImpl answers questions over the tenant's collection. Concurrency
// is bounded process-wide; cached answers are served without touching the
// embedding or generation providers.
type queryServiceImpl struct {
	cfg      *config.QueryConfig
	embedder services.EmbeddingService
	store    services.VectorStore
	llm      services.LLMService
	cache    services.CacheService
	metrics  *QueryMetrics

	inFlight *semaphore.Weighted
}

func NewQueryService(
	cfg *config.QueryConfig,
	embedder services.EmbeddingService,
	store services.VectorStore,
	llm services.LLMService,
	cache services.CacheService,
	metrics *QueryMetrics,
) services.QueryService {
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &queryServiceImpl{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		llm:      llm,
		cache:    cache,
		metrics:  metrics,
		inFlight: semaphore.NewWeighted(maxConcurrent),
	}
}

func (s *queryServiceImpl) Classify(question string) models.QueryRoute {
	return ClassifyQuestion(question)
}

func (s *queryServiceImpl) Metrics() models.QueryMetricsSnapshot {
	return s.metrics.Snapshot()
}

// cacheKey hashes tenant, normalized question, and the retrieval-relevant
// options. History is deliberately excluded: it varies every turn and would
// defeat the cache, and cached answers are only reused for the same question.
func (s *queryServiceImpl) cacheKey(tenantID, question string, opts models.QueryOptions) string {
	canonical, _ := json.Marshal(struct {
		TopK       int     `json:"top_k"`
		PromptType string  `json:"prompt_type"`
		MinScore   float64 `json:"min_score"`
	}{opts.TopK, opts.PromptType, opts.MinScore})
	sum := sha256.Sum256([]byte(tenantID + "|" + strings.ToLower(strings.TrimSpace(question)) + "|" + string(canonical)))
	return fmt.Sprintf("query:%s:%s", tenantID, hex.EncodeToString(sum[:]))
}

func (s *queryServiceImpl) topK(opts models.QueryOptions) int {
	if opts.TopK > 0 && opts.TopK <= 50 {
		return opts.TopK
	}
	return s.cfg.KDocuments
}

func (s *queryServiceImpl) Query(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error) {
	start := time.Now()
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateQuestion(question); err != nil {
		return nil, err
	}

	if s.Classify(question) == models.RouteGreeting {
		return &models.QueryResponse{
			Text:       GreetingReply(),
			Sources:    []models.QuerySource{},
			Intent:     string(models.RouteGreeting),
			LatencyMs:  time.Since(start).Milliseconds(),
			SearchType: "none",
		}, nil
	}

	// History-bearing turns are conversational; a cached generic answer would
	// ignore the dialogue, so only history-free queries hit the cache.
	cacheable := len(opts.History) == 0 && len(opts.Context) == 0
	key := s.cacheKey(tenantID, question, opts)
	if cacheable {
		if data, ok := s.cache.Get(ctx, key); ok {
			var cached models.QueryResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				cached.Cached = true
				cached.LatencyMs = time.Since(start).Milliseconds()
				s.metrics.RecordHit(time.Since(start))
				return &cached, nil
			}
			s.cache.Delete(ctx, key)
		}
	}

	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		s.metrics.RecordError()
		return nil, fmt.Errorf("query queue wait aborted: %w", err)
	}
	defer s.inFlight.Release(1)

	qctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
	defer cancel()

	response, err := s.answer(qctx, tenantID, question, opts)
	if err != nil {
		s.metrics.RecordError()
		return nil, err
	}
	response.LatencyMs = time.Since(start).Milliseconds()

	if cacheable {
		if data, err := json.Marshal(response); err == nil {
			s.cache.Set(ctx, key, data, time.Duration(s.cfg.CacheTTL)*time.Second)
		}
	}
	s.metrics.RecordMiss(time.Since(start))
	return response, nil
}

// answer runs the retrieve-then-generate path.
func (s *queryServiceImpl) answer(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error) {
	hits, err := s.retrieve(ctx, tenantID, question, opts)
	if err != nil {
		return nil, err
	}

	prompt := BuildSupportPrompt(question, hits, &opts)
	generation, err := s.llm.Generate(ctx, prompt, models.GenerateOptions{})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	response := &models.QueryResponse{
		Text:       strings.TrimSpace(generation.Text),
		Sources:    toQuerySources(hits),
		Usage:      &generation.Usage,
		Intent:     string(models.RouteVector),
		SearchType: "vector",
	}
	if c := confidenceFrom(hits); c != nil {
		response.Confidence = c
	}
	return response, nil
}

func (s *queryServiceImpl) retrieve(ctx context.Context, tenantID, question string, opts models.QueryOptions) ([]models.SearchResult, error) {
	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	hits, err := s.store.Search(ctx, tenantID, vector, s.topK(opts), map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if opts.MinScore > 0 {
		filtered := hits[:0]
		for _, h := range hits {
			if h.Score >= opts.MinScore {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	return hits, nil
}

// confidenceFrom is round(best score * 100), nil when nothing was retrieved.
func confidenceFrom(hits []models.SearchResult) *int {
	if len(hits) == 0 {
		return nil
	}
	best := hits[0].Score
	for _, h := range hits[1:] {
		if h.Score > best {
			best = h.Score
		}
	}
	c := int(math.Round(best * 100))
	return &c
}

func toQuerySources(hits []models.SearchResult) []models.QuerySource {
	sources := make([]models.QuerySource, 0, len(hits))
	for _, h := range hits {
		src := models.QuerySource{
			DocumentID: h.DocumentID,
			Score:      h.Score,
			Snippet:    snippet(h.Text, 200),
		}
		if h.Metadata != nil {
			if name, ok := h.Metadata["source"].(string); ok {
				src.Source = name
			}
			if idx, ok := h.Metadata["chunk_index"].(float64); ok {
				src.ChunkIndex = int(idx)
			}
		}
		sources = append(sources, src)
	}
	return sources
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// StreamQuery never consults or fills the answer cache; streamed output is
// conversational and the deltas cannot be replayed from a stored blob.
func (s *queryServiceImpl) StreamQuery(ctx context.Context, tenantID, question string, opts models.QueryOptions) (<-chan models.StreamChunk, error) {
	start := time.Now()
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateQuestion(question); err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, 16)

	if s.Classify(question) == models.RouteGreeting {
		go func() {
			defer close(out)
			out <- models.StreamChunk{Delta: GreetingReply()}
			out <- models.StreamChunk{Done: true, Sources: []models.QuerySource{}}
		}()
		return out, nil
	}

	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("query queue wait aborted: %w", err)
	}

	go func() {
		defer close(out)
		defer s.inFlight.Release(1)

		qctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
		defer cancel()

		hits, err := s.retrieve(qctx, tenantID, question, opts)
		if err != nil {
			s.metrics.RecordError()
			out <- models.StreamChunk{Err: err}
			return
		}

		prompt := BuildSupportPrompt(question, hits, &opts)
		deltas, err := s.llm.GenerateStream(qctx, prompt, models.GenerateOptions{})
		if err != nil {
			s.metrics.RecordError()
			out <- models.StreamChunk{Err: fmt.Errorf("generation failed: %w", err)}
			return
		}

		for delta := range deltas {
			if delta.Err != nil {
				s.metrics.RecordError()
				out <- models.StreamChunk{Err: delta.Err}
				return
			}
			if delta.Text != "" {
				out <- models.StreamChunk{Delta: delta.Text}
			}
			if delta.Done {
				break
			}
		}
		out <- models.StreamChunk{Done: true, Sources: toQuerySources(hits)}
		s.metrics.RecordMiss(time.Since(start))
	}()
	return out, nil
}

func (s *queryServiceImpl) SemanticSearch(ctx context.Context, tenantID, question string, limit int) ([]models.SearchResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateQuestion(question); err != nil {
		return nil, err
	}
	if err := ValidateSearchLimit(limit); err != nil {
		return nil, err
	}
	return s.retrieve(ctx, tenantID, question, models.QueryOptions{TopK: limit})
}

// HybridQuery runs the vector path and tags the response. When a structured
// retrieval source lands it will merge here behind the same signature.
func (s *queryServiceImpl) HybridQuery(ctx context.Context, tenantID, question string, opts models.QueryOptions) (*models.QueryResponse, error) {
	response, err := s.Query(ctx, tenantID, question, opts)
	if err != nil {
		return nil, err
	}
	response.SearchType = "hybrid"
	return response, nil
}
