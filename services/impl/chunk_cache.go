package impl

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tas-support-backend/models"
)

// ChunkCache is the on-disk cache of split chunks. A hit skips load+split;
// embedding and storage still run, so tenant isolation in the vector store is
// never bypassed.
type ChunkCache struct {
	dir string
}

type chunkCacheEntry struct {
	Chunks    []models.DocumentRecord `json:"chunks"`
	Timestamp time.Time               `json:"timestamp"`
	Count     int                     `json:"count"`
}

func NewChunkCache(dir string) (*ChunkCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk cache dir: %w", err)
	}
	return &ChunkCache{dir: dir}, nil
}

// Key derives the cache key from the split configuration; changing chunk
// size or overlap invalidates naturally.
func (c *ChunkCache) Key(tenantID, documentID string, chunkSize, chunkOverlap int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d|%d", tenantID, documentID, chunkSize, chunkOverlap)))
	return hex.EncodeToString(sum[:])
}

func (c *ChunkCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached records for key, or (nil, false).
func (c *ChunkCache) Get(key string) ([]models.DocumentRecord, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry chunkCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry; drop it.
		_ = os.Remove(c.path(key))
		return nil, false
	}
	return entry.Chunks, true
}

func (c *ChunkCache) Put(key string, chunks []models.DocumentRecord) error {
	entry := chunkCacheEntry{Chunks: chunks, Timestamp: time.Now(), Count: len(chunks)}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk cache entry: %w", err)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk cache entry: %w", err)
	}
	return os.Rename(tmp, c.path(key))
}

// Purge removes one entry. Removing a missing entry is not an error.
func (c *ChunkCache) Purge(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeAll empties the cache directory.
func (c *ChunkCache) PurgeAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			_ = os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	return nil
}
