package test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
	"github.com/tas-support-backend/services/impl"
)

// isVectorStoreAvailable checks if the Qdrant-compatible store is reachable.
func isVectorStoreAvailable(baseURL string) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// isOllamaAvailable checks if the local model server is reachable.
func isOllamaAvailable(baseURL string) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func testTenantID() string {
	if v := os.Getenv("TEST_TENANT_ID"); v != "" {
		return v
	}
	return "integration-test"
}

type ragStack struct {
	ingestion services.IngestionService
	query     services.QueryService
	tenants   services.TenantService
	store     services.VectorStore
}

func newRAGStack(t *testing.T, cfg *config.Config) *ragStack {
	t.Helper()

	cfg.Ingestion.CacheDir = t.TempDir()
	chunkCache, err := impl.NewChunkCache(cfg.Ingestion.CacheDir)
	require.NoError(t, err)

	store := impl.NewVectorStore(&cfg.Vector)
	embedder := impl.NewEmbeddingService(&cfg.Embedding)
	llm := impl.NewLLMService(&cfg.LLM)
	cache := impl.NewCacheServiceWithClient(nil, cfg.Query.CacheCapacity)
	loader := impl.NewDocumentLoader(nil, nil)

	return &ragStack{
		ingestion: impl.NewIngestionService(&cfg.Ingestion, loader, embedder, store, chunkCache, impl.NewIngestMetrics(nil)),
		query:     impl.NewQueryService(&cfg.Query, embedder, store, llm, cache, impl.NewQueryMetrics(nil)),
		tenants:   impl.NewTenantService(store, cache, cfg.Vector.DefaultCollection),
		store:     store,
	}
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestRAGIntegration_IndexAndQuery runs the full pipeline against real
// services: index a document, answer a question grounded in it, then delete.
func TestRAGIntegration_IndexAndQuery(t *testing.T) {
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("Config not available: %v", err)
	}
	if !isVectorStoreAvailable(cfg.Vector.URL) {
		t.Skip("Vector store not available, skipping integration test")
	}
	if !isOllamaAvailable(cfg.Embedding.BaseURL) {
		t.Skip("Embedding provider not available, skipping integration test")
	}

	stack := newRAGStack(t, cfg)
	ctx := context.Background()
	tenantID := testTenantID()

	path := writeDoc(t, "returns-policy.txt",
		"Orders can be returned within 30 days of delivery for a full refund. "+
			"Refunds are issued to the original payment method within 5 business days. "+
			"Items marked as final sale cannot be returned.")

	result, err := stack.ingestion.IndexDocument(ctx, path, tenantID, map[string]any{"document_id": "returns-policy"}, func(ev models.ProgressEvent) {
		t.Logf("  %s %d%% %s", ev.Stage, ev.Progress, ev.Message)
	})
	require.NoError(t, err)
	require.False(t, result.Skipped)
	assert.Greater(t, result.Chunks, 0)

	t.Cleanup(func() {
		if _, err := stack.ingestion.DeleteDocuments(context.Background(), tenantID, ""); err != nil {
			t.Logf("cleanup failed: %v", err)
		}
	})

	t.Run("Semantic Search Finds The Document", func(t *testing.T) {
		hits, err := stack.query.SemanticSearch(ctx, tenantID, "how long do I have to return an order", 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "returns-policy", hits[0].DocumentID)
		t.Logf("top hit score=%.3f", hits[0].Score)
	})

	t.Run("Grounded Answer", func(t *testing.T) {
		if !isOllamaAvailable(cfg.LLM.BaseURL) {
			t.Skip("LLM provider not available, skipping")
		}
		response, err := stack.query.Query(ctx, tenantID, "What is the return window?", models.QueryOptions{})
		require.NoError(t, err)
		require.NotNil(t, response)
		assert.NotEmpty(t, response.Text)
		assert.NotEmpty(t, response.Sources)
		t.Logf("answer (%dms, confidence=%v): %s", response.LatencyMs, response.Confidence, response.Text)
	})

	t.Run("Tenant Stats Reflect The Index", func(t *testing.T) {
		stats, err := stack.tenants.GetStats(ctx, tenantID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.DocumentCount, 1)
		assert.GreaterOrEqual(t, stats.ChunkCount, result.Chunks)
	})

	t.Run("Reindex Skips Unchanged Document", func(t *testing.T) {
		again, err := stack.ingestion.IndexDocument(ctx, path, tenantID, map[string]any{"document_id": "returns-policy"}, nil)
		require.NoError(t, err)
		assert.True(t, again.Skipped)
		assert.Equal(t, "already_indexed", again.Reason)
	})
}

// TestRAGIntegration_TenantIsolation indexes a document for one tenant and
// verifies another tenant cannot retrieve it.
func TestRAGIntegration_TenantIsolation(t *testing.T) {
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("Config not available: %v", err)
	}
	if !isVectorStoreAvailable(cfg.Vector.URL) {
		t.Skip("Vector store not available, skipping integration test")
	}
	if !isOllamaAvailable(cfg.Embedding.BaseURL) {
		t.Skip("Embedding provider not available, skipping integration test")
	}

	stack := newRAGStack(t, cfg)
	ctx := context.Background()
	owner := testTenantID() + "-owner"
	other := testTenantID() + "-other"

	path := writeDoc(t, "secret-pricing.txt",
		"The enterprise plan is priced at 4200 dollars per month with a 14 day trial.")

	_, err = stack.ingestion.IndexDocument(ctx, path, owner, map[string]any{"document_id": "secret-pricing"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = stack.ingestion.DeleteDocuments(context.Background(), owner, "")
		_, _ = stack.ingestion.DeleteDocuments(context.Background(), other, "")
	})

	ownerHits, err := stack.query.SemanticSearch(ctx, owner, "enterprise plan pricing", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, ownerHits)

	otherHits, err := stack.query.SemanticSearch(ctx, other, "enterprise plan pricing", 5)
	require.NoError(t, err)
	for _, hit := range otherHits {
		assert.NotEqual(t, "secret-pricing", hit.DocumentID, "tenant collections must be disjoint")
	}
}
