package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/metrics"
	"github.com/studyrag/backend/internal/retrieval"
	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/internal/storage/sqlite"
	"github.com/studyrag/backend/pkg/logger"
	"github.com/studyrag/backend/pkg/utils"
)

type Request struct {
	Message string
	Subject string
	Unit    string
}

type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Page       int64   `json:"page"`
	Score      float64 `json:"score"`
}

type Response struct {
	Response    string   `json:"response"`
	Subject     string   `json:"subject"`
	Unit        string   `json:"unit"`
	ChunksFound int      `json:"chunks_found"`
	Chunks      []string `json:"chunks"`
	Sources     []Source `json:"sources"`
}

// NotFoundError is the typed "expected miss" for subject/unit lookups. The
// transport layer turns it into a user-facing message, not a server error.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// Registry is the subject/unit lookup surface of the relational store.
type Registry interface {
	GetSubjectByName(name string) (*models.Subject, error)
	GetUnit(subjectID, title string) (*models.Unit, error)
}

// Searcher is the hybrid retrieval surface.
type Searcher interface {
	Search(ctx context.Context, query string, filters retrieval.Filters, k int) ([]retrieval.Result, error)
}

// Answerer is the synthesis surface: grounded generation plus the templated
// no-context fallback.
type Answerer interface {
	Generate(ctx context.Context, question string, chunks []retrieval.Result, subject, unit string, maxChunks int) string
	Fallback(question, subject, unit, reason string) string
}

// ResponseCache is optional; a nil cache disables caching.
type ResponseCache interface {
	GetChatResponse(ctx context.Context, key string, response interface{}) (bool, error)
	SetChatResponse(ctx context.Context, key string, response interface{}) error
}

type Service struct {
	registry  Registry
	retriever Searcher
	answerer  Answerer
	cache     ResponseCache
	topK      int
	maxChunks int
}

func NewService(registry Registry, retriever Searcher, answerer Answerer, cache ResponseCache, topK, maxChunks int) *Service {
	if topK <= 0 {
		topK = 5
	}
	if maxChunks <= 0 {
		maxChunks = 5
	}
	return &Service{
		registry:  registry,
		retriever: retriever,
		answerer:  answerer,
		cache:     cache,
		topK:      topK,
		maxChunks: maxChunks,
	}
}

// HandleMessage runs the full answer path: validate subject/unit, retrieve,
// synthesize or fall back, and shape the API response.
func (s *Service) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	subject, err := s.registry.GetSubjectByName(req.Subject)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, &NotFoundError{Resource: "subject", Name: req.Subject}
		}
		return nil, fmt.Errorf("failed to look up subject: %w", err)
	}

	unit, err := s.registry.GetUnit(subject.ID, req.Unit)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, &NotFoundError{Resource: "unit", Name: req.Unit}
		}
		return nil, fmt.Errorf("failed to look up unit: %w", err)
	}

	cacheKey := utils.HashString(subject.ID + "|" + unit.ID + "|" + req.Message)
	if s.cache != nil {
		var cached Response
		if hit, err := s.cache.GetChatResponse(ctx, cacheKey, &cached); err == nil && hit {
			metrics.ChatRequestTotal.WithLabelValues("cached").Inc()
			return &cached, nil
		}
	}

	filters := retrieval.Filters{SubjectID: subject.ID, UnitID: unit.ID}

	results, err := s.retriever.Search(ctx, req.Message, filters, s.topK)
	if err != nil {
		// Retrieval trouble is recoverable from the user's point of view:
		// answer with the templated fallback rather than surfacing a fault.
		logger.Error("Retrieval failed", zap.Error(err))
		metrics.ChatRequestTotal.WithLabelValues("retrieval_error").Inc()
		return &Response{
			Response: s.answerer.Fallback(req.Message, req.Subject, req.Unit, "search temporarily unavailable"),
			Subject:  req.Subject,
			Unit:     req.Unit,
			Chunks:   []string{},
			Sources:  []Source{},
		}, nil
	}

	metrics.ChunksRetrieved.Observe(float64(len(results)))

	var answer string
	if len(results) == 0 {
		answer = s.answerer.Fallback(req.Message, req.Subject, req.Unit, "no relevant chunks found")
	} else {
		answer = s.answerer.Generate(ctx, req.Message, results, req.Subject, req.Unit, s.maxChunks)
	}

	resp := &Response{
		Response:    answer,
		Subject:     req.Subject,
		Unit:        req.Unit,
		ChunksFound: len(results),
		Chunks:      topChunkContents(results, 3),
		Sources:     toSources(results),
	}

	if s.cache != nil && len(results) > 0 {
		if err := s.cache.SetChatResponse(ctx, cacheKey, resp); err != nil {
			logger.Warn("Failed to cache chat response", zap.Error(err))
		}
	}

	metrics.ChatRequestTotal.WithLabelValues("ok").Inc()
	metrics.ChatDuration.Observe(time.Since(start).Seconds())

	logger.Info("Chat message handled",
		zap.String("subject", req.Subject),
		zap.String("unit", req.Unit),
		zap.Int("chunks_found", len(results)),
		zap.Duration("latency", time.Since(start)),
	)

	return resp, nil
}

func topChunkContents(results []retrieval.Result, n int) []string {
	if len(results) < n {
		n = len(results)
	}
	out := make([]string, 0, n)
	for _, r := range results[:n] {
		out = append(out, r.Content)
	}
	return out
}

func toSources(results []retrieval.Result) []Source {
	out := make([]Source, 0, len(results))
	for _, r := range results {
		out = append(out, Source{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Page:       r.PageNumber,
			Score:      r.Score,
		})
	}
	return out
}
