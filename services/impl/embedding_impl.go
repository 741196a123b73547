package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/services"
)

// embeddingServiceImpl embeds texts through Ollama or Gemini. Transient
// provider failures are retried with jittered backoff at this adapter only.
type embeddingServiceImpl struct {
	cfg        *config.EmbeddingConfig
	httpClient *http.Client
	retry      RetryPolicy

	dimOnce sync.Once
	dim     int
	dimErr  error
}

func NewEmbeddingService(cfg *config.EmbeddingConfig) services.EmbeddingService {
	return &embeddingServiceImpl{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		retry:      DefaultRetryPolicy(),
	}
}

func (s *embeddingServiceImpl) BatchSize() int {
	if s.cfg.BatchSize > 0 {
		return s.cfg.BatchSize
	}
	return 50
}

func (s *embeddingServiceImpl) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	switch s.cfg.Provider {
	case "gemini":
		return s.embedGemini(ctx, texts)
	default:
		return s.embedOllama(ctx, texts)
	}
}

func (s *embeddingServiceImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// Dimension embeds a probe string once and memoizes the vector width.
func (s *embeddingServiceImpl) Dimension(ctx context.Context) (int, error) {
	s.dimOnce.Do(func() {
		vec, err := s.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			s.dimErr = fmt.Errorf("embedding dimension probe failed: %w", err)
			return
		}
		s.dim = len(vec)
	})
	return s.dim, s.dimErr
}

// embedOllama calls /api/embeddings once per text; the endpoint is
// single-prompt.
func (s *embeddingServiceImpl) embedOllama(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		body := map[string]any{"model": s.cfg.Model, "prompt": text}
		var out struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := s.post(ctx, s.cfg.BaseURL+"/api/embeddings", body, &out); err != nil {
			return nil, fmt.Errorf("ollama embedding failed for text %d: %w", i, err)
		}
		if len(out.Embedding) == 0 {
			return nil, fmt.Errorf("ollama returned empty embedding for text %d", i)
		}
		vectors[i] = out.Embedding
	}
	return vectors, nil
}

func (s *embeddingServiceImpl) embedGemini(ctx context.Context, texts []string) ([][]float32, error) {
	type content struct {
		Parts []map[string]string `json:"parts"`
	}
	type embedRequest struct {
		Model   string  `json:"model"`
		Content content `json:"content"`
	}
	requests := make([]embedRequest, len(texts))
	model := "models/" + s.cfg.Model
	for i, text := range texts {
		requests[i] = embedRequest{
			Model:   model,
			Content: content{Parts: []map[string]string{{"text": text}}},
		}
	}
	url := fmt.Sprintf("%s/v1beta/%s:batchEmbedContents?key=%s", s.cfg.BaseURL, model, s.cfg.APIKey)
	var out struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}
	if err := s.post(ctx, url, map[string]any{"requests": requests}, &out); err != nil {
		return nil, fmt.Errorf("gemini batch embedding failed: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for i, e := range out.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (s *embeddingServiceImpl) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	return Retry(ctx, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("embedding request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			data, _ := io.ReadAll(resp.Body)
			return Permanent(fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, string(data)))
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, string(data))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
