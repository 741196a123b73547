package impl

import (
	"context"
	"fmt"
	"sync"

	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// fakeEmbedder returns fixed-width vectors and counts calls.
type fakeEmbedder struct {
	mu        sync.Mutex
	dim       int
	batchSize int
	calls     int
	err       error
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, batchSize: 10}
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = 0.1
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Dimension(ctx context.Context) (int, error) {
	return f.dim, nil
}

func (f *fakeEmbedder) BatchSize() int { return f.batchSize }

// fakeVectorStore keeps points in memory, keyed by tenant then point ID.
type fakeVectorStore struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]map[string]services.VectorPoint
	searchHits  []models.SearchResult
	searchErr   error
	upsertErr   error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: make(map[string]bool),
		points:      make(map[string]map[string]services.VectorPoint),
	}
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[tenantID] = true
	if f.points[tenantID] == nil {
		f.points[tenantID] = make(map[string]services.VectorPoint)
	}
	return nil
}

func (f *fakeVectorStore) CollectionExists(ctx context.Context, tenantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[tenantID], nil
}

func (f *fakeVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tenants []string
	for t := range f.collections {
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func (f *fakeVectorStore) DeleteCollection(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, tenantID)
	delete(f.points, tenantID)
	return nil
}

func (f *fakeVectorStore) Upsert(ctx context.Context, tenantID string, points []services.VectorPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[tenantID] == nil {
		f.points[tenantID] = make(map[string]services.VectorPoint)
	}
	for _, p := range points {
		f.points[tenantID][p.ID] = p
	}
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, tenantID string, vector []float32, limit int, filter map[string]any) ([]models.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit < len(f.searchHits) {
		return f.searchHits[:limit], nil
	}
	return f.searchHits, nil
}

func (f *fakeVectorStore) matches(p services.VectorPoint, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprintf("%v", p.Payload[k]) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func (f *fakeVectorStore) Scroll(ctx context.Context, tenantID string, filter map[string]any, limit int, offset string) ([]models.SearchResult, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []models.SearchResult
	for id, p := range f.points[tenantID] {
		if f.matches(p, filter) {
			r := models.SearchResult{ID: id, Metadata: p.Payload}
			if doc, ok := p.Payload["document_id"].(string); ok {
				r.DocumentID = doc
			}
			results = append(results, r)
		}
	}
	return results, "", nil
}

func (f *fakeVectorStore) Count(ctx context.Context, tenantID string, filter map[string]any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.points[tenantID] {
		if f.matches(p, filter) {
			count++
		}
	}
	return count, nil
}

func (f *fakeVectorStore) DeletePoints(ctx context.Context, tenantID string, filter map[string]any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, p := range f.points[tenantID] {
		if f.matches(p, filter) {
			delete(f.points[tenantID], id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeVectorStore) Healthy(ctx context.Context) error { return nil }

func (f *fakeVectorStore) pointCount(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[tenantID])
}

// fakeLLM echoes a canned answer and records the last prompt.
type fakeLLM struct {
	mu         sync.Mutex
	answer     string
	lastPrompt string
	calls      int
	err        error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.Generation, error) {
	f.mu.Lock()
	f.lastPrompt = prompt
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.Generation{Text: f.answer, Model: "fake", Usage: models.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts models.GenerateOptions) (<-chan models.GenerationDelta, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.lastPrompt = prompt
	f.calls++
	f.mu.Unlock()
	out := make(chan models.GenerationDelta)
	go func() {
		defer close(out)
		for _, word := range []string{f.answer[:len(f.answer)/2], f.answer[len(f.answer)/2:]} {
			out <- models.GenerationDelta{Text: word}
		}
		out <- models.GenerationDelta{Done: true}
	}()
	return out, nil
}

func (f *fakeLLM) Healthy(ctx context.Context) error { return nil }
func (f *fakeLLM) Name() string                      { return "fake/fake" }

// fakeLoader returns one record per configured text.
type fakeLoader struct {
	texts []string
	err   error
}

func (f *fakeLoader) Load(ctx context.Context, path string, metadata map[string]any) ([]models.DocumentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	records := make([]models.DocumentRecord, 0, len(f.texts))
	for _, text := range f.texts {
		records = append(records, models.DocumentRecord{Text: text, Modality: models.ModalityText, Metadata: map[string]any{"source": path}})
	}
	return records, nil
}

func (f *fakeLoader) SupportedExtensions() []string { return []string{".txt"} }
