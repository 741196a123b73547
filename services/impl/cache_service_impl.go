package impl

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/services"
)

// memoryCache is the bounded in-process fallback. Eviction is lazy: expired
// entries go first, then an arbitrary entry when still over capacity.
type memoryCache struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	capacity int
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func newMemoryCache(capacity int) *memoryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &memoryCache{entries: make(map[string]memoryEntry), capacity: capacity}
}

func (m *memoryCache) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (m *memoryCache) set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= m.capacity {
		now := time.Now()
		for k, e := range m.entries {
			if now.After(e.expires) {
				delete(m.entries, k)
			}
		}
		for k := range m.entries {
			if len(m.entries) < m.capacity {
				break
			}
			delete(m.entries, k)
		}
	}
	m.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
}

func (m *memoryCache) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *memoryCache) deleteByPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
}

// cacheServiceImpl prefers Redis and degrades to the in-memory cache when
// Redis is not configured or a call fails. Cache errors never surface to
// callers; a broken cache is a slow path, not an outage.
type cacheServiceImpl struct {
	client *redis.Client
	local  *memoryCache
}

func NewCacheService(cfg *config.RedisConfig, capacity int) services.CacheService {
	s := &cacheServiceImpl{local: newMemoryCache(capacity)}
	if !cfg.Enabled || cfg.Host == "" {
		log.Printf("[CACHE] Redis disabled, using in-memory cache (capacity=%d)", capacity)
		return s
	}
	s.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Redis unreachable at %s:%d, falling back to in-memory cache: %v", cfg.Host, cfg.Port, err)
		s.client = nil
	}
	return s
}

// NewCacheServiceWithClient wires an existing Redis client; used by tests.
func NewCacheServiceWithClient(client *redis.Client, capacity int) services.CacheService {
	return &cacheServiceImpl{client: client, local: newMemoryCache(capacity)}
}

func (s *cacheServiceImpl) Enabled() bool {
	return s.client != nil
}

func (s *cacheServiceImpl) Get(ctx context.Context, key string) ([]byte, bool) {
	if s.client != nil {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			return data, true
		}
		if err != redis.Nil {
			log.Printf("[CACHE] Redis GET failed for %s: %v", key, err)
		}
		return nil, false
	}
	return s.local.get(key)
}

func (s *cacheServiceImpl) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if s.client != nil {
		if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
			log.Printf("[CACHE] Redis SET failed for %s: %v", key, err)
		}
		return
	}
	s.local.set(key, value, ttl)
}

func (s *cacheServiceImpl) Delete(ctx context.Context, key string) {
	if s.client != nil {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			log.Printf("[CACHE] Redis DEL failed for %s: %v", key, err)
		}
		return
	}
	s.local.delete(key)
}

func (s *cacheServiceImpl) DeleteByPrefix(ctx context.Context, prefix string) {
	if s.client != nil {
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) >= 500 {
				s.client.Del(ctx, keys...)
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			log.Printf("[CACHE] Redis SCAN failed for prefix %s: %v", prefix, err)
		}
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		return
	}
	s.local.deleteByPrefix(prefix)
}
