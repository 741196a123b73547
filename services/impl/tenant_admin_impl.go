package impl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

const (
	tenantCacheTTL  = 5 * time.Minute
	statsScrollPage = 500
)

// tenantServiceImpl is the admin surface over the vector store. Listing and
// stats are scroll-heavy, so both memoize for a few minutes; deletions
// invalidate the memos immediately.
type tenantServiceImpl struct {
	store             services.VectorStore
	cache             services.CacheService
	defaultCollection string

	mu         sync.Mutex
	listCached []models.TenantInfo
	listAt     time.Time
	statsCache map[string]statsEntry
}

type statsEntry struct {
	stats models.TenantStats
	at    time.Time
}

func NewTenantService(store services.VectorStore, cache services.CacheService, defaultCollection string) services.TenantService {
	return &tenantServiceImpl{
		store:             store,
		cache:             cache,
		defaultCollection: defaultCollection,
		statsCache:        make(map[string]statsEntry),
	}
}

func (s *tenantServiceImpl) ListTenants(ctx context.Context) ([]models.TenantInfo, error) {
	s.mu.Lock()
	if s.listCached != nil && time.Since(s.listAt) < tenantCacheTTL {
		cached := make([]models.TenantInfo, len(s.listCached))
		copy(cached, s.listCached)
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	tenants, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	infos := make([]models.TenantInfo, 0, len(tenants))
	for _, tenantID := range tenants {
		count, err := s.store.Count(ctx, tenantID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count chunks for tenant %s: %w", tenantID, err)
		}
		infos = append(infos, models.TenantInfo{TenantID: tenantID, ChunkCount: count})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TenantID < infos[j].TenantID })

	s.mu.Lock()
	s.listCached = infos
	s.listAt = time.Now()
	s.mu.Unlock()

	result := make([]models.TenantInfo, len(infos))
	copy(result, infos)
	return result, nil
}

func (s *tenantServiceImpl) GetStats(ctx context.Context, tenantID string) (*models.TenantStats, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if entry, ok := s.statsCache[tenantID]; ok && time.Since(entry.at) < tenantCacheTTL {
		stats := entry.stats
		s.mu.Unlock()
		return &stats, nil
	}
	s.mu.Unlock()

	exists, err := s.store.CollectionExists(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("tenant %s not found", tenantID)
	}

	chunkCount, err := s.store.Count(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	// Distinct documents and the freshest indexed_at come from a full scroll.
	documents := make(map[string]struct{})
	var lastUpdated *time.Time
	offset := ""
	for {
		points, next, err := s.store.Scroll(ctx, tenantID, nil, statsScrollPage, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant %s: %w", tenantID, err)
		}
		for _, p := range points {
			if p.DocumentID != "" {
				documents[p.DocumentID] = struct{}{}
			}
			if p.Metadata != nil {
				if raw, ok := p.Metadata["indexed_at"].(string); ok {
					if ts, err := time.Parse(time.RFC3339, raw); err == nil {
						if lastUpdated == nil || ts.After(*lastUpdated) {
							lastUpdated = &ts
						}
					}
				}
			}
		}
		if next == "" {
			break
		}
		offset = next
	}

	stats := models.TenantStats{
		TenantID:       tenantID,
		DocumentCount:  len(documents),
		ChunkCount:     chunkCount,
		CollectionName: fmt.Sprintf("%s_%s", s.defaultCollection, tenantID),
		LastUpdated:    lastUpdated,
	}

	s.mu.Lock()
	s.statsCache[tenantID] = statsEntry{stats: stats, at: time.Now()}
	s.mu.Unlock()
	return &stats, nil
}

func (s *tenantServiceImpl) DeleteTenant(ctx context.Context, tenantID string, confirm bool) (*models.TenantDeleteResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if !confirm {
		return nil, ValidationError{Field: "confirm", Message: "tenant deletion requires explicit confirmation"}
	}

	count, err := s.store.Count(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCollection(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("failed to delete tenant %s: %w", tenantID, err)
	}

	// Cached answers for the tenant are stale the moment its corpus is gone.
	s.cache.DeleteByPrefix(ctx, "query:"+tenantID+":")

	s.mu.Lock()
	s.listCached = nil
	delete(s.statsCache, tenantID)
	s.mu.Unlock()

	log.Printf("[TENANT] Deleted tenant %s (%d points)", tenantID, count)
	return &models.TenantDeleteResult{TenantID: tenantID, PointsDeleted: count}, nil
}
