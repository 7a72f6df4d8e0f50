package retrieval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/vector/milvus"
	"github.com/studyrag/backend/pkg/logger"
)

var ErrNotInitialized = errors.New("retriever not initialized")

// ChunkStore is the similarity-search surface of the vector store.
type ChunkStore interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int, subjectID, unitID string) ([]milvus.SearchResult, error)
}

// QueryEmbedder turns a search query into a vector with query intent.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Filters struct {
	SubjectID string
	UnitID    string
}

// Result is one ranked chunk with its component and blended scores.
type Result struct {
	ChunkID     string
	DocumentID  string
	SubjectID   string
	UnitID      string
	Content     string
	PageNumber  int64
	VectorScore float64
	TextScore   float64
	Score       float64
}

type Config struct {
	TopK           int
	VectorWeight   float64
	FulltextWeight float64
}

// Retriever blends vector similarity with full-text relevance over the
// candidate pool. Weights default to 0.7 vector / 0.3 full-text and must sum
// to 1. Init must run before the first search; it is safe to call from
// concurrent first users.
type Retriever struct {
	store    ChunkStore
	embedder QueryEmbedder
	cfg      Config

	mu          sync.Mutex
	initialized bool
	initFn      func(ctx context.Context) error
}

func NewRetriever(store ChunkStore, embedder QueryEmbedder, cfg Config, initFn func(ctx context.Context) error) (*Retriever, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.VectorWeight == 0 && cfg.FulltextWeight == 0 {
		cfg.VectorWeight = 0.7
		cfg.FulltextWeight = 0.3
	}

	sum := cfg.VectorWeight + cfg.FulltextWeight
	if sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("retrieval weights must sum to 1.0, got vector=%.2f fulltext=%.2f",
			cfg.VectorWeight, cfg.FulltextWeight)
	}

	return &Retriever{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		initFn:   initFn,
	}, nil
}

// Init prepares the underlying index/connection. Concurrent callers
// serialize; only the first invocation does work.
func (r *Retriever) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	if r.initFn != nil {
		if err := r.initFn(ctx); err != nil {
			return fmt.Errorf("failed to initialize retriever: %w", err)
		}
	}

	r.initialized = true
	logger.Info("Retriever initialized",
		zap.Int("top_k", r.cfg.TopK),
		zap.Float64("vector_weight", r.cfg.VectorWeight),
		zap.Float64("fulltext_weight", r.cfg.FulltextWeight),
	)
	return nil
}

func (r *Retriever) isInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Search performs weighted hybrid retrieval. k <= 0 uses the configured TopK.
func (r *Retriever) Search(ctx context.Context, query string, filters Filters, k int) ([]Result, error) {
	if !r.isInitialized() {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		k = r.cfg.TopK
	}

	candidates, err := r.candidates(ctx, query, filters, k)
	if err != nil {
		return nil, err
	}

	queryTerms := tokenize(query)
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		vecScore := distanceToSimilarity(c.Score)
		textScore := fulltextScore(queryTerms, c.Content)
		results = append(results, Result{
			ChunkID:     c.ChunkID,
			DocumentID:  c.DocumentID,
			SubjectID:   c.SubjectID,
			UnitID:      c.UnitID,
			Content:     c.Content,
			PageNumber:  c.PageNumber,
			VectorScore: vecScore,
			TextScore:   textScore,
			Score:       r.cfg.VectorWeight*vecScore + r.cfg.FulltextWeight*textScore,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].VectorScore > results[j].VectorScore
	})

	if len(results) > k {
		results = results[:k]
	}

	logger.Info("Hybrid search completed",
		zap.String("subject_id", filters.SubjectID),
		zap.String("unit_id", filters.UnitID),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// VectorSearch is the reduced pure nearest-neighbor mode: no full-text
// blending, ranking comes straight from the index.
func (r *Retriever) VectorSearch(ctx context.Context, query string, filters Filters, k int) ([]Result, error) {
	if !r.isInitialized() {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		k = r.cfg.TopK
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, embedding, k, filters.SubjectID, filters.UnitID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, c := range hits {
		vecScore := distanceToSimilarity(c.Score)
		results = append(results, Result{
			ChunkID:     c.ChunkID,
			DocumentID:  c.DocumentID,
			SubjectID:   c.SubjectID,
			UnitID:      c.UnitID,
			Content:     c.Content,
			PageNumber:  c.PageNumber,
			VectorScore: vecScore,
			Score:       vecScore,
		})
	}

	return results, nil
}

// candidates fetches a pool wider than k so full-text re-ranking has
// something to work with.
func (r *Retriever) candidates(ctx context.Context, query string, filters Filters, k int) ([]milvus.SearchResult, error) {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	poolSize := k * 4
	if poolSize < 20 {
		poolSize = 20
	}

	hits, err := r.store.Search(ctx, embedding, poolSize, filters.SubjectID, filters.UnitID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

// distanceToSimilarity maps an L2 distance into (0, 1], monotonically
// decreasing in distance.
func distanceToSimilarity(distance float32) float64 {
	return 1.0 / (1.0 + float64(distance))
}

var termSplit = regexp.MustCompile(`[^a-z0-9]+`)

func tokenize(text string) []string {
	parts := termSplit.Split(strings.ToLower(text), -1)
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 1 {
			terms = append(terms, p)
		}
	}
	return terms
}

// fulltextScore is the fraction of distinct query terms present in the chunk
// content. Crude next to a real inverted index, but it only has to re-rank a
// small, already-filtered candidate pool.
func fulltextScore(queryTerms []string, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	contentTerms := make(map[string]struct{})
	for _, t := range tokenize(content) {
		contentTerms[t] = struct{}{}
	}

	distinct := make(map[string]struct{})
	matched := 0
	for _, t := range queryTerms {
		if _, seen := distinct[t]; seen {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := contentTerms[t]; ok {
			matched++
		}
	}

	return float64(matched) / float64(len(distinct))
}
