package impl

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ingestionServiceImpl runs the indexing pipeline. Two budgets bound the
// work: jobs caps whole documents in flight, embedGroups caps concurrent
// embedding batches within a job.
type ingestionServiceImpl struct {
	cfg      *config.IngestionConfig
	loader   services.DocumentLoader
	splitter *RecursiveSplitter
	embedder services.EmbeddingService
	store    services.VectorStore
	cache    *ChunkCache

	jobs        *semaphore.Weighted
	embedGroups *semaphore.Weighted
	metrics     *IngestMetrics
}

func NewIngestionService(
	cfg *config.IngestionConfig,
	loader services.DocumentLoader,
	embedder services.EmbeddingService,
	store services.VectorStore,
	cache *ChunkCache,
	metrics *IngestMetrics,
) services.IngestionService {
	maxJobs := int64(cfg.MaxJobs)
	if maxJobs <= 0 {
		maxJobs = 3
	}
	maxGroups := int64(cfg.MaxEmbedGroups)
	if maxGroups <= 0 {
		maxGroups = 3
	}
	return &ingestionServiceImpl{
		cfg:         cfg,
		loader:      loader,
		splitter:    NewRecursiveSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:    embedder,
		store:       store,
		cache:       cache,
		jobs:        semaphore.NewWeighted(maxJobs),
		embedGroups: semaphore.NewWeighted(maxGroups),
		metrics:     metrics,
	}
}

// progressReporter keeps emitted progress weakly increasing.
type progressReporter struct {
	fn   models.ProgressFunc
	path string
	last int
}

func (p *progressReporter) emit(stage string, progress int, message string) {
	if p.fn == nil {
		return
	}
	if progress < p.last && stage != models.StageError {
		progress = p.last
	}
	p.last = progress
	p.fn(models.ProgressEvent{Stage: stage, Progress: progress, Message: message, FilePath: p.path})
}

// deriveDocumentID uses the supplied metadata document_id or falls back to
// the source basename without extension.
func deriveDocumentID(path string, metadata map[string]any) string {
	if metadata != nil {
		if id, ok := metadata["document_id"].(string); ok && id != "" {
			return id
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// chunkPointID is deterministic in (tenant, document, index) so re-upserting
// after a partial failure overwrites instead of duplicating.
func chunkPointID(tenantID, documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("chunk://%s/%s/%d", tenantID, documentID, index))).String()
}

func (s *ingestionServiceImpl) IndexDocument(ctx context.Context, path, tenantID string, metadata map[string]any, onProgress models.ProgressFunc) (*models.IndexResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateDocumentPath(path); err != nil {
		return nil, err
	}
	if err := s.checkFileSize(path); err != nil {
		return nil, err
	}

	if err := s.jobs.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("indexing queue wait aborted: %w", err)
	}
	defer s.jobs.Release(1)

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.JobTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	result, err := s.indexOne(jobCtx, path, tenantID, metadata, onProgress)
	if s.metrics != nil {
		s.metrics.ObserveIndex(time.Since(start), err == nil)
	}
	return result, err
}

func (s *ingestionServiceImpl) indexOne(ctx context.Context, path, tenantID string, metadata map[string]any, onProgress models.ProgressFunc) (*models.IndexResult, error) {
	start := time.Now()
	documentID := deriveDocumentID(path, metadata)
	reporter := &progressReporter{fn: onProgress, path: path}

	reporter.emit(models.StageChecking, 5, "checking index state")

	dim, err := s.embedder.Dimension(ctx)
	if err != nil {
		reporter.emit(models.StageError, 0, err.Error())
		return nil, err
	}
	if err := s.store.EnsureCollection(ctx, tenantID, dim); err != nil {
		reporter.emit(models.StageError, 0, err.Error())
		return nil, err
	}

	// Idempotency: any existing chunk for (tenant, document) means indexed.
	existing, err := s.store.Count(ctx, tenantID, map[string]any{"tenant_id": tenantID, "document_id": documentID})
	if err != nil {
		reporter.emit(models.StageError, 0, err.Error())
		return nil, err
	}
	if existing > 0 {
		reporter.emit(models.StageComplete, 100, "already indexed")
		return &models.IndexResult{
			DocumentID: documentID,
			TenantID:   tenantID,
			FilePath:   path,
			Skipped:    true,
			Reason:     "already_indexed",
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	reporter.emit(models.StagePreparing, 15, "loading document")

	records, fromCache, err := s.loadAndSplit(ctx, path, tenantID, documentID, metadata)
	if err != nil {
		reporter.emit(models.StageError, 0, err.Error())
		return nil, err
	}
	if fromCache {
		log.Printf("[INGEST] Chunk cache hit for %s/%s (%d chunks)", tenantID, documentID, len(records))
	}

	reporter.emit(models.StageProcessing, 35, fmt.Sprintf("%d chunks prepared", len(records)))

	chunks := s.buildChunks(records, tenantID, documentID)
	if err := s.embedAndStore(ctx, tenantID, documentID, chunks, reporter); err != nil {
		reporter.emit(models.StageError, 0, err.Error())
		return nil, err
	}

	reporter.emit(models.StageComplete, 100, "indexed")
	return &models.IndexResult{
		DocumentID: documentID,
		TenantID:   tenantID,
		FilePath:   path,
		Chunks:     len(chunks),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *ingestionServiceImpl) checkFileSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	limitMB := s.cfg.MaxFileSizeMB
	if IsTextExtension(path) {
		limitMB = s.cfg.MaxTextFileSizeMB
	}
	if info.Size() > int64(limitMB)<<20 {
		return ValidationError{Field: "path", Message: fmt.Sprintf("file exceeds %d MiB limit", limitMB)}
	}
	return nil
}

// loadAndSplit returns the split records, consulting the on-disk chunk cache
// first. A cache hit skips load+split only; embedding and storage still run.
func (s *ingestionServiceImpl) loadAndSplit(ctx context.Context, path, tenantID, documentID string, metadata map[string]any) ([]models.DocumentRecord, bool, error) {
	cacheKey := s.cache.Key(tenantID, documentID, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, true, nil
	}

	records, err := s.loader.Load(ctx, path, metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	var split []models.DocumentRecord
	for _, record := range records {
		for _, text := range s.splitter.Split(record.Text) {
			split = append(split, models.DocumentRecord{
				Text:     text,
				Modality: record.Modality,
				Metadata: record.Metadata,
			})
		}
	}
	if len(split) == 0 {
		return nil, false, fmt.Errorf("document %s produced no chunks", documentID)
	}

	if err := s.cache.Put(cacheKey, split); err != nil {
		log.Printf("[INGEST] Failed to write chunk cache for %s/%s: %v", tenantID, documentID, err)
	}
	return split, false, nil
}

func (s *ingestionServiceImpl) buildChunks(records []models.DocumentRecord, tenantID, documentID string) []models.Chunk {
	now := time.Now().UTC().Format(time.RFC3339)
	total := len(records)
	chunks := make([]models.Chunk, total)
	for i, record := range records {
		meta := map[string]any{}
		for k, v := range record.Metadata {
			meta[k] = v
		}
		modality := record.Modality
		if modality == "" {
			modality = models.ModalityText
		}
		meta["chunk_index"] = i
		meta["total_chunks"] = total
		meta["modality"] = string(modality)
		meta["processed_at"] = now
		meta["indexed_at"] = now
		meta["tenant_id"] = tenantID
		meta["document_id"] = documentID
		chunks[i] = models.Chunk{
			ChunkID:    chunkPointID(tenantID, documentID, i),
			DocumentID: documentID,
			TenantID:   tenantID,
			Text:       record.Text,
			Metadata:   meta,
		}
	}
	return chunks
}

// embedAndStore embeds chunks in provider-sized batches, several batches in
// flight under the embed-group budget, and persists each batch atomically.
func (s *ingestionServiceImpl) embedAndStore(ctx context.Context, tenantID, documentID string, chunks []models.Chunk, reporter *progressReporter) error {
	batchSize := s.embedder.BatchSize()
	batches := make([][]models.Chunk, 0, (len(chunks)+batchSize-1)/batchSize)
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}

	reporter.emit(models.StageEmbedding, 40, fmt.Sprintf("embedding %d batches", len(batches)))

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan int, len(batches))
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if err := s.embedGroups.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.embedGroups.Release(1)

			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := s.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch failed for %s: %w", documentID, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(batch))
			}

			points := make([]services.VectorPoint, len(batch))
			for i, c := range batch {
				payload := map[string]any{"text": c.Text}
				for k, v := range c.Metadata {
					payload[k] = v
				}
				points[i] = services.VectorPoint{ID: c.ChunkID, Vector: vectors[i], Payload: payload}
			}
			if err := s.store.Upsert(gctx, tenantID, points); err != nil {
				return fmt.Errorf("failed to store batch for %s: %w", documentID, err)
			}
			done <- len(batch)
			return nil
		})
	}

	// Progress: embedding+storing spans 40→95, advanced as batches land.
	finished := 0
	stop := make(chan struct{})
	go func() {
		for n := range done {
			finished += n
			progress := 40 + (55*finished)/len(chunks)
			reporter.emit(models.StageStoring, progress, fmt.Sprintf("stored %d/%d chunks", finished, len(chunks)))
		}
		close(stop)
	}()

	err := g.Wait()
	close(done)
	<-stop
	if err != nil {
		// A failed document never leaves partial chunks behind.
		if _, cleanupErr := s.store.DeletePoints(context.WithoutCancel(ctx), tenantID, map[string]any{"tenant_id": tenantID, "document_id": documentID}); cleanupErr != nil {
			log.Printf("[INGEST] Cleanup after failed index of %s/%s failed: %v", tenantID, documentID, cleanupErr)
		}
		return err
	}
	return nil
}

func (s *ingestionServiceImpl) IndexMultiple(ctx context.Context, paths []string, tenantID string, metadata map[string]any, onProgress models.ProgressFunc) ([]models.IndexResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	results := make([]models.IndexResult, 0, len(paths))
	for _, path := range paths {
		result, err := s.IndexDocument(ctx, path, tenantID, metadata, onProgress)
		if err != nil {
			// Per-file failures are reported in the batch; remaining files
			// continue.
			results = append(results, models.IndexResult{
				DocumentID: deriveDocumentID(path, metadata),
				TenantID:   tenantID,
				FilePath:   path,
				Error:      err.Error(),
			})
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

func (s *ingestionServiceImpl) DeleteDocuments(ctx context.Context, tenantID, documentID string) (int, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return 0, err
	}
	filter := map[string]any{"tenant_id": tenantID}
	if documentID != "" {
		filter["document_id"] = documentID
	}
	deleted, err := s.store.DeletePoints(ctx, tenantID, filter)
	if err != nil {
		return 0, err
	}
	if documentID != "" {
		_ = s.cache.Purge(s.cache.Key(tenantID, documentID, s.cfg.ChunkSize, s.cfg.ChunkOverlap))
	}
	log.Printf("[INGEST] Deleted %d chunks for tenant=%s document=%q", deleted, tenantID, documentID)
	return deleted, nil
}

func (s *ingestionServiceImpl) PurgeChunkCache(tenantID, documentID string) error {
	if tenantID == "" && documentID == "" {
		return s.cache.PurgeAll()
	}
	return s.cache.Purge(s.cache.Key(tenantID, documentID, s.cfg.ChunkSize, s.cfg.ChunkOverlap))
}
