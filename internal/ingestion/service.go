package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/metrics"
	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/pkg/logger"
)

// DocumentStore is the relational side of ingestion: document lifecycle and
// chunk persistence.
type DocumentStore interface {
	GetDocument(id string) (*models.SourceDocument, error)
	ListDocuments(status models.ProcessingStatus) ([]models.SourceDocument, error)
	UpdateDocumentStatus(id string, next models.ProcessingStatus) error
	ResetForReingest(id string) error
	InsertChunks(chunks []models.ChunkRecord) models.BatchResult
}

// VectorStore is the vector side: embeddings in, per-document deletes out.
type VectorStore interface {
	Insert(ctx context.Context, chunks []models.ChunkRecord) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// CacheInvalidator clears answer caches after the corpus changes. Optional.
type CacheInvalidator interface {
	InvalidateChatCache(ctx context.Context) error
}

// ChunkProducer turns a registered document into embedded chunk records.
type ChunkProducer interface {
	Process(ctx context.Context, doc *models.SourceDocument) ([]models.ChunkRecord, error)
}

type Service struct {
	store     DocumentStore
	vectors   VectorStore
	processor ChunkProducer
	cache     CacheInvalidator
	workers   int
}

func NewService(store DocumentStore, vectors VectorStore, processor ChunkProducer, cache CacheInvalidator, workers int) *Service {
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		store:     store,
		vectors:   vectors,
		processor: processor,
		cache:     cache,
		workers:   workers,
	}
}

// IngestResult summarizes a single document run.
type IngestResult struct {
	DocumentID  string
	ChunkCount  int
	StoreFailed int
	Elapsed     time.Duration
	Reprocessed bool
}

// Ingest runs the full pipeline for one document: reset if it was already
// processed, process pages into embedded chunks, write vectors, then write
// relational rows. The document ends in completed or failed.
func (s *Service) Ingest(ctx context.Context, documentID string) (*IngestResult, error) {
	start := time.Now()

	doc, err := s.store.GetDocument(documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	result := &IngestResult{DocumentID: documentID}

	if doc.Status != models.StatusPending {
		result.Reprocessed = true
		if err := s.vectors.DeleteByDocument(ctx, documentID); err != nil {
			return nil, fmt.Errorf("failed to clear previous vectors: %w", err)
		}
		if err := s.store.ResetForReingest(documentID); err != nil {
			return nil, fmt.Errorf("failed to reset document: %w", err)
		}
		doc.Status = models.StatusPending
	}

	if err := s.store.UpdateDocumentStatus(documentID, models.StatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}

	chunks, err := s.processor.Process(ctx, doc)
	if err != nil {
		s.markFailed(documentID)
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to process document: %w", err)
	}

	if len(chunks) == 0 {
		// A document whose pages are all boilerplate is a valid, empty
		// ingestion, not an error.
		if err := s.store.UpdateDocumentStatus(documentID, models.StatusCompleted); err != nil {
			return nil, fmt.Errorf("failed to mark document completed: %w", err)
		}
		metrics.DocumentsIngested.WithLabelValues("completed").Inc()
		result.Elapsed = time.Since(start)
		logger.Info("Document ingested with no usable content",
			zap.String("document_id", documentID))
		return result, nil
	}

	if err := s.vectors.Insert(ctx, chunks); err != nil {
		s.markFailed(documentID)
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to store vectors: %w", err)
	}

	batch := s.store.InsertChunks(chunks)
	for _, e := range batch.Errors {
		logger.Warn("Chunk row insert failed", zap.String("document_id", documentID), zap.Error(e))
	}

	if err := s.store.UpdateDocumentStatus(documentID, models.StatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to mark document completed: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateChatCache(ctx); err != nil {
			logger.Warn("Failed to invalidate chat cache", zap.Error(err))
		}
	}

	metrics.DocumentsIngested.WithLabelValues("completed").Inc()
	metrics.ChunksIngested.Add(float64(len(chunks)))

	result.ChunkCount = len(chunks)
	result.StoreFailed = batch.Failed
	result.Elapsed = time.Since(start)

	logger.Info("Document ingested",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("row_failures", batch.Failed),
		zap.Duration("elapsed", result.Elapsed),
	)

	return result, nil
}

func (s *Service) markFailed(documentID string) {
	if err := s.store.UpdateDocumentStatus(documentID, models.StatusFailed); err != nil {
		logger.Error("Failed to mark document failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
}

// BatchSummary reports a multi-document run.
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []error
}

// RunBatch ingests every pending document with a bounded worker pool.
func (s *Service) RunBatch(ctx context.Context) (*BatchSummary, error) {
	docs, err := s.store.ListDocuments(models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents: %w", err)
	}

	summary := &BatchSummary{Total: len(docs)}
	if len(docs) == 0 {
		return summary, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.workers)
	)

	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := s.Ingest(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("document %s: %w", id, err))
				return
			}
			summary.Succeeded++
		}(doc.ID)
	}

	wg.Wait()

	logger.Info("Batch ingestion finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}
