package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyrag/backend/internal/vector/milvus"
)

type fakeStore struct {
	hits      []milvus.SearchResult
	err       error
	lastTopK  int
	lastSubj  string
	lastUnit  string
	callCount int
}

func (f *fakeStore) Search(_ context.Context, _ []float32, topK int, subjectID, unitID string) ([]milvus.SearchResult, error) {
	f.callCount++
	f.lastTopK = topK
	f.lastSubj = subjectID
	f.lastUnit = unitID
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeQueryEmbedder struct {
	err error
}

func (f *fakeQueryEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func newInitializedRetriever(t *testing.T, store ChunkStore, cfg Config) *Retriever {
	t.Helper()
	r, err := NewRetriever(store, &fakeQueryEmbedder{}, cfg, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, r.Init(context.Background()))
	return r
}

func TestNewRetriever_RejectsBadWeights(t *testing.T) {
	_, err := NewRetriever(&fakeStore{}, &fakeQueryEmbedder{}, Config{
		VectorWeight:   0.8,
		FulltextWeight: 0.8,
	}, nil)
	assert.Error(t, err)
}

func TestSearch_RequiresInit(t *testing.T) {
	r, err := NewRetriever(&fakeStore{}, &fakeQueryEmbedder{}, Config{}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	_, err = r.Search(context.Background(), "q", Filters{}, 5)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = r.VectorSearch(context.Background(), "q", Filters{}, 5)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInit_PropagatesFailure(t *testing.T) {
	boom := errors.New("collection load failed")
	r, err := NewRetriever(&fakeStore{}, &fakeQueryEmbedder{}, Config{}, func(ctx context.Context) error { return boom })
	require.NoError(t, err)

	assert.ErrorIs(t, r.Init(context.Background()), boom)

	_, err = r.Search(context.Background(), "q", Filters{}, 5)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSearch_BlendsVectorAndFulltextScores(t *testing.T) {
	store := &fakeStore{hits: []milvus.SearchResult{
		// Close in vector space but irrelevant text.
		{ChunkID: "1-0", Content: "unrelated text entirely", Score: 0.0},
		// Further away but matches every query term.
		{ChunkID: "1-1", Content: "gradient descent updates weights", Score: 1.0},
	}}

	r := newInitializedRetriever(t, store, Config{TopK: 5, VectorWeight: 0.7, FulltextWeight: 0.3})

	results, err := r.Search(context.Background(), "gradient descent", Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var byID = map[string]Result{}
	for _, res := range results {
		byID[res.ChunkID] = res
	}

	// distance 0 -> similarity 1; no text match -> 0.7*1 + 0.3*0 = 0.7
	assert.InDelta(t, 0.7, byID["1-0"].Score, 1e-9)
	// distance 1 -> similarity 0.5; full text match -> 0.7*0.5 + 0.3*1 = 0.65
	assert.InDelta(t, 0.65, byID["1-1"].Score, 1e-9)
	assert.InDelta(t, 1.0, byID["1-1"].TextScore, 1e-9)

	// Ranking follows the blended score.
	assert.Equal(t, "1-0", results[0].ChunkID)
}

func TestSearch_FulltextCanOutrankVector(t *testing.T) {
	store := &fakeStore{hits: []milvus.SearchResult{
		{ChunkID: "near-miss", Content: "nothing in common", Score: 0.5},
		{ChunkID: "exact", Content: "overfitting and regularization tradeoff", Score: 0.9},
	}}

	r := newInitializedRetriever(t, store, Config{TopK: 5, VectorWeight: 0.5, FulltextWeight: 0.5})

	results, err := r.Search(context.Background(), "overfitting regularization", Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 0.5*(1/1.9) + 0.5*1 = 0.763 beats 0.5*(1/1.5) + 0 = 0.333
	assert.Equal(t, "exact", results[0].ChunkID)
}

func TestSearch_TruncatesToK(t *testing.T) {
	hits := make([]milvus.SearchResult, 12)
	for i := range hits {
		hits[i] = milvus.SearchResult{ChunkID: string(rune('a' + i)), Content: "text", Score: float32(i)}
	}
	store := &fakeStore{hits: hits}

	r := newInitializedRetriever(t, store, Config{TopK: 3})

	results, err := r.Search(context.Background(), "query terms", Filters{SubjectID: "s1", UnitID: "u1"}, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// The candidate pool is wider than k so re-ranking has material.
	assert.GreaterOrEqual(t, store.lastTopK, 12)
	assert.Equal(t, "s1", store.lastSubj)
	assert.Equal(t, "u1", store.lastUnit)
}

func TestVectorSearch_NoFulltextBlend(t *testing.T) {
	store := &fakeStore{hits: []milvus.SearchResult{
		{ChunkID: "1-0", Content: "gradient descent", Score: 1.0},
	}}

	r := newInitializedRetriever(t, store, Config{TopK: 5})

	results, err := r.VectorSearch(context.Background(), "gradient descent", Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
	assert.Zero(t, results[0].TextScore)
	assert.Equal(t, 5, store.lastTopK, "plain mode does not widen the pool")
}

func TestSearch_EmbedderFailure(t *testing.T) {
	r, err := NewRetriever(&fakeStore{}, &fakeQueryEmbedder{err: errors.New("embed down")}, Config{}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, r.Init(context.Background()))

	_, err = r.Search(context.Background(), "q", Filters{}, 5)
	assert.Error(t, err)
}

func TestFulltextScore(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		want    float64
	}{
		{"all terms", "gradient descent", "Gradient descent converges.", 1.0},
		{"half terms", "gradient boosting", "gradient methods", 0.5},
		{"no terms", "quantum physics", "gradient descent", 0.0},
		{"case insensitive", "GRADIENT", "the gradient", 1.0},
		{"punctuation ignored", "back-propagation", "back propagation works", 1.0},
		{"empty query", "", "anything", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fulltextScore(tokenize(tt.query), tt.content)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDistanceToSimilarity_Monotonic(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToSimilarity(0), 1e-9)
	assert.Greater(t, distanceToSimilarity(0.5), distanceToSimilarity(1.0))
	assert.Greater(t, distanceToSimilarity(1.0), distanceToSimilarity(10.0))
	assert.Greater(t, distanceToSimilarity(1000), 0.0)
}
