package impl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/services"
)

func newTestVectorStore(t *testing.T, handler http.HandlerFunc) services.VectorStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewVectorStore(&config.VectorConfig{
		URL:               srv.URL,
		DefaultCollection: "support",
		Timeout:           5,
		ScrollTimeout:     5,
		PoolSize:          2,
	})
}

func TestVectorStore_UpsertInjectsTenantID(t *testing.T) {
	var captured struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/support_acme/points", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"result":{"status":"ok"}}`))
	})

	err := store.Upsert(context.Background(), "acme", []services.VectorPoint{
		{ID: "p1", Vector: []float32{0.1, 0.2}, Payload: map[string]any{"text": "hello", "tenant_id": "spoofed"}},
	})
	require.NoError(t, err)

	require.Len(t, captured.Points, 1)
	assert.Equal(t, "acme", captured.Points[0].Payload["tenant_id"], "payload tenant is always the caller's tenant")
	assert.Equal(t, "hello", captured.Points[0].Payload["text"])
}

func TestVectorStore_SearchBuildsTenantFilter(t *testing.T) {
	var captured map[string]any
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/support_acme/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"result":[{"id":"p1","score":0.91,"payload":{"document_id":"doc-1","text":"passage"}}]}`))
	})

	results, err := store.Search(context.Background(), "acme", []float32{0.5}, 5, map[string]any{"tenant_id": "acme"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "passage", results[0].Text)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)

	filter, ok := captured["filter"].(map[string]any)
	require.True(t, ok, "search request must carry the filter")
	must := filter["must"].([]any)
	require.Len(t, must, 1)
	cond := must[0].(map[string]any)
	assert.Equal(t, "tenant_id", cond["key"])
}

func TestVectorStore_CountMissingCollectionIsZero(t *testing.T) {
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	count, err := store.Count(context.Background(), "ghost", nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVectorStore_CollectionExists(t *testing.T) {
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/support_acme" {
			w.Write([]byte(`{"result":{"status":"green"}}`))
			return
		}
		http.NotFound(w, r)
	})

	exists, err := store.CollectionExists(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.CollectionExists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVectorStore_EnsureCollectionCreatesOnce(t *testing.T) {
	created := 0
	exists := false
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			if exists {
				w.Write([]byte(`{"result":{"status":"green"}}`))
			} else {
				http.NotFound(w, r)
			}
		case r.Method == http.MethodPut:
			created++
			exists = true
			w.Write([]byte(`{"result":true}`))
		}
	})

	require.NoError(t, store.EnsureCollection(context.Background(), "acme", 768))
	require.NoError(t, store.EnsureCollection(context.Background(), "acme", 768))
	assert.Equal(t, 1, created, "second call hits the memo")
}

func TestVectorStore_ListCollectionsFiltersNamespace(t *testing.T) {
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"collections":[
			{"name":"support_acme"},
			{"name":"support_globex"},
			{"name":"unrelated"}
		]}}`))
	})

	tenants, err := store.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, tenants)
}

func TestVectorStore_DeletePointsReturnsPriorCount(t *testing.T) {
	deleted := false
	store := newTestVectorStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/support_acme/points/count":
			w.Write([]byte(`{"result":{"count":7}}`))
		case "/collections/support_acme/points/delete":
			deleted = true
			w.Write([]byte(`{"result":{"status":"ok"}}`))
		default:
			http.NotFound(w, r)
		}
	})

	n, err := store.DeletePoints(context.Background(), "acme", map[string]any{"tenant_id": "acme"})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.True(t, deleted)
}
