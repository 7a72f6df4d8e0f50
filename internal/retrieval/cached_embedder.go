package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/studyrag/backend/pkg/logger"
	"github.com/studyrag/backend/pkg/utils"
)

// EmbeddingCache stores query embeddings keyed by a text hash.
type EmbeddingCache interface {
	GetQueryEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetQueryEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

// CachedQueryEmbedder fronts a QueryEmbedder with a cache. Repeated questions
// within the TTL skip the embedding service entirely; cache trouble falls
// through to the inner embedder.
type CachedQueryEmbedder struct {
	inner QueryEmbedder
	cache EmbeddingCache
}

func NewCachedQueryEmbedder(inner QueryEmbedder, cache EmbeddingCache) *CachedQueryEmbedder {
	return &CachedQueryEmbedder{inner: inner, cache: cache}
}

func (e *CachedQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	if embedding, hit, err := e.cache.GetQueryEmbedding(ctx, key); err == nil && hit {
		return embedding, nil
	} else if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}

	embedding, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.SetQueryEmbedding(ctx, key, embedding); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}

	return embedding, nil
}
