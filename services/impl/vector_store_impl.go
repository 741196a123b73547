package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// vectorStoreImpl talks to a Qdrant-compatible REST API. One collection per
// tenant, cosine distance. A small pool of HTTP clients is picked from at
// random per request.
type vectorStoreImpl struct {
	cfg     *config.VectorConfig
	clients []*http.Client
	scroll  *http.Client
	retry   RetryPolicy

	// collection-exists memo, reset on deletion
	known   map[string]bool
	knownMu sync.Mutex
}

func NewVectorStore(cfg *config.VectorConfig) services.VectorStore {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	clients := make([]*http.Client, poolSize)
	for i := range clients {
		clients[i] = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	return &vectorStoreImpl{
		cfg:     cfg,
		clients: clients,
		scroll:  &http.Client{Timeout: time.Duration(cfg.ScrollTimeout) * time.Second},
		retry:   DefaultRetryPolicy(),
		known:   make(map[string]bool),
	}
}

// CollectionName maps a tenant to its collection.
func (s *vectorStoreImpl) collectionName(tenantID string) string {
	return fmt.Sprintf("%s_%s", s.cfg.DefaultCollection, tenantID)
}

// tenantFromCollection is the inverse of collectionName; ok is false for
// collections outside our namespace.
func (s *vectorStoreImpl) tenantFromCollection(name string) (string, bool) {
	prefix := s.cfg.DefaultCollection + "_"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

func (s *vectorStoreImpl) client() *http.Client {
	return s.clients[rand.Intn(len(s.clients))]
}

func (s *vectorStoreImpl) do(ctx context.Context, client *http.Client, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal vector store request: %w", err)
		}
		payload = data
	}

	return Retry(ctx, s.retry, func() error {
		var rb io.Reader
		if payload != nil {
			rb = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL+path, rb)
		if err != nil {
			return Permanent(fmt.Errorf("failed to create vector store request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.APIKey != "" {
			req.Header.Set("api-key", s.cfg.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("vector store request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return Permanent(fmt.Errorf("vector store: %s %s returned 404", method, path))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			data, _ := io.ReadAll(resp.Body)
			return Permanent(fmt.Errorf("vector store: %s %s returned %d: %s", method, path, resp.StatusCode, string(data)))
		}
		if resp.StatusCode >= 500 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("vector store: %s %s returned %d: %s", method, path, resp.StatusCode, string(data))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return Permanent(fmt.Errorf("failed to decode vector store response: %w", err))
			}
		}
		return nil
	})
}

func (s *vectorStoreImpl) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	s.knownMu.Lock()
	if s.known[tenantID] {
		s.knownMu.Unlock()
		return nil
	}
	s.knownMu.Unlock()

	exists, err := s.CollectionExists(ctx, tenantID)
	if err != nil {
		return err
	}
	if !exists {
		body := map[string]any{
			"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
		}
		if err := s.do(ctx, s.client(), http.MethodPut, "/collections/"+s.collectionName(tenantID), body, nil); err != nil {
			return fmt.Errorf("failed to create collection for tenant %s: %w", tenantID, err)
		}
		log.Printf("[VECTOR] Created collection %s (dim=%d)", s.collectionName(tenantID), dimension)
	}

	s.knownMu.Lock()
	s.known[tenantID] = true
	s.knownMu.Unlock()
	return nil
}

func (s *vectorStoreImpl) CollectionExists(ctx context.Context, tenantID string) (bool, error) {
	var out struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	err := s.do(ctx, s.client(), http.MethodGet, "/collections/"+s.collectionName(tenantID), nil, &out)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *vectorStoreImpl) ListCollections(ctx context.Context) ([]string, error) {
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, s.client(), http.MethodGet, "/collections", nil, &out); err != nil {
		return nil, err
	}
	var tenants []string
	for _, c := range out.Result.Collections {
		if tenant, ok := s.tenantFromCollection(c.Name); ok {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

func (s *vectorStoreImpl) DeleteCollection(ctx context.Context, tenantID string) error {
	if err := s.do(ctx, s.client(), http.MethodDelete, "/collections/"+s.collectionName(tenantID), nil, nil); err != nil {
		return err
	}
	s.knownMu.Lock()
	delete(s.known, tenantID)
	s.knownMu.Unlock()
	return nil
}

func (s *vectorStoreImpl) Upsert(ctx context.Context, tenantID string, points []services.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	// Tenant isolation invariant: every payload carries the owning tenant.
	apiPoints := make([]map[string]any, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload["tenant_id"] = tenantID
		apiPoints = append(apiPoints, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	body := map[string]any{"points": apiPoints}
	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collectionName(tenantID))
	return s.do(ctx, s.client(), http.MethodPut, path, body, nil)
}

// buildFilter converts equality conditions to the store's filter syntax.
func buildFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for key, value := range filter {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

type apiPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func toSearchResult(p apiPoint) models.SearchResult {
	r := models.SearchResult{
		ID:       fmt.Sprintf("%v", p.ID),
		Score:    p.Score,
		Metadata: p.Payload,
	}
	if p.Payload != nil {
		if docID, ok := p.Payload["document_id"].(string); ok {
			r.DocumentID = docID
		}
		if text, ok := p.Payload["text"].(string); ok {
			r.Text = text
		}
	}
	return r
}

func (s *vectorStoreImpl) Search(ctx context.Context, tenantID string, vector []float32, limit int, filter map[string]any) ([]models.SearchResult, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	var out struct {
		Result []apiPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collectionName(tenantID))
	if err := s.do(ctx, s.client(), http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(out.Result))
	for _, p := range out.Result {
		results = append(results, toSearchResult(p))
	}
	return results, nil
}

func (s *vectorStoreImpl) Scroll(ctx context.Context, tenantID string, filter map[string]any, limit int, offset string) ([]models.SearchResult, string, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	if offset != "" {
		body["offset"] = offset
	}
	var out struct {
		Result struct {
			Points         []apiPoint `json:"points"`
			NextPageOffset any        `json:"next_page_offset"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", s.collectionName(tenantID))
	if err := s.do(ctx, s.scroll, http.MethodPost, path, body, &out); err != nil {
		return nil, "", err
	}
	results := make([]models.SearchResult, 0, len(out.Result.Points))
	for _, p := range out.Result.Points {
		results = append(results, toSearchResult(p))
	}
	next := ""
	if out.Result.NextPageOffset != nil {
		next = fmt.Sprintf("%v", out.Result.NextPageOffset)
	}
	return results, next, nil
}

func (s *vectorStoreImpl) Count(ctx context.Context, tenantID string, filter map[string]any) (int, error) {
	body := map[string]any{"exact": true}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", s.collectionName(tenantID))
	if err := s.do(ctx, s.client(), http.MethodPost, path, body, &out); err != nil {
		if strings.Contains(err.Error(), "404") {
			return 0, nil
		}
		return 0, err
	}
	return out.Result.Count, nil
}

func (s *vectorStoreImpl) DeletePoints(ctx context.Context, tenantID string, filter map[string]any) (int, error) {
	before, err := s.Count(ctx, tenantID, filter)
	if err != nil {
		return 0, err
	}
	if before == 0 {
		return 0, nil
	}
	body := map[string]any{"filter": buildFilter(filter)}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collectionName(tenantID))
	if err := s.do(ctx, s.client(), http.MethodPost, path, body, nil); err != nil {
		return 0, err
	}
	return before, nil
}

func (s *vectorStoreImpl) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+"/collections", nil)
	if err != nil {
		return err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector store unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
