package services

import (
	"context"
	"time"
)

// CacheService is a byte-oriented cache with TTLs. The implementation uses
// Redis when configured and falls back to a bounded in-memory map; both are
// safe for concurrent use. Get returns (nil, false) on a miss.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
	Enabled() bool
}
