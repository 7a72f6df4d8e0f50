package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyrag/backend/internal/retrieval"
	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/internal/storage/sqlite"
)

type fakeRegistry struct {
	subjects map[string]*models.Subject
	units    map[string]*models.Unit
}

func (f *fakeRegistry) GetSubjectByName(name string) (*models.Subject, error) {
	if s, ok := f.subjects[name]; ok {
		return s, nil
	}
	return nil, sqlite.ErrNotFound
}

func (f *fakeRegistry) GetUnit(subjectID, title string) (*models.Unit, error) {
	if u, ok := f.units[subjectID+"/"+title]; ok {
		return u, nil
	}
	return nil, sqlite.ErrNotFound
}

type fakeSearcher struct {
	results     []retrieval.Result
	err         error
	lastFilters retrieval.Filters
	calls       int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, filters retrieval.Filters, _ int) ([]retrieval.Result, error) {
	f.calls++
	f.lastFilters = filters
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeAnswerer struct {
	generateCalls int
	fallbackCalls int
	lastReason    string
}

func (f *fakeAnswerer) Generate(_ context.Context, question string, _ []retrieval.Result, _, _ string, _ int) string {
	f.generateCalls++
	return "generated answer for " + question
}

func (f *fakeAnswerer) Fallback(question, _, _, reason string) string {
	f.fallbackCalls++
	f.lastReason = reason
	return "fallback answer for " + question
}

type fakeCache struct {
	entries map[string][]byte
	sets    int
}

func (f *fakeCache) GetChatResponse(_ context.Context, key string, response interface{}) (bool, error) {
	data, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, response)
}

func (f *fakeCache) SetChatResponse(_ context.Context, key string, response interface{}) error {
	f.sets++
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	if f.entries == nil {
		f.entries = make(map[string][]byte)
	}
	f.entries[key] = data
	return nil
}

func testRegistry() *fakeRegistry {
	return &fakeRegistry{
		subjects: map[string]*models.Subject{
			"Machine Learning": {ID: "subj-1", Name: "Machine Learning"},
		},
		units: map[string]*models.Unit{
			"subj-1/Unit I": {ID: "unit-1", SubjectID: "subj-1", Title: "Unit I"},
		},
	}
}

func resultsWith(contents ...string) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(contents))
	for i, c := range contents {
		out = append(out, retrieval.Result{
			ChunkID:    "1-0",
			DocumentID: "doc-1",
			Content:    c,
			PageNumber: int64(i + 1),
			Score:      0.9,
		})
	}
	return out
}

func TestHandleMessage_UnknownSubject(t *testing.T) {
	svc := NewService(testRegistry(), &fakeSearcher{}, &fakeAnswerer{}, nil, 5, 5)

	_, err := svc.HandleMessage(context.Background(), Request{
		Message: "q", Subject: "Quantum Computing", Unit: "Unit I",
	})

	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "subject", nfe.Resource)
	assert.Equal(t, "Quantum Computing", nfe.Name)
}

func TestHandleMessage_UnknownUnit(t *testing.T) {
	svc := NewService(testRegistry(), &fakeSearcher{}, &fakeAnswerer{}, nil, 5, 5)

	_, err := svc.HandleMessage(context.Background(), Request{
		Message: "q", Subject: "Machine Learning", Unit: "Unit IX",
	})

	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "unit", nfe.Resource)
}

func TestHandleMessage_ZeroChunksFallsBack(t *testing.T) {
	answerer := &fakeAnswerer{}
	svc := NewService(testRegistry(), &fakeSearcher{}, answerer, nil, 5, 5)

	resp, err := svc.HandleMessage(context.Background(), Request{
		Message: "What is X?", Subject: "Machine Learning", Unit: "Unit I",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, answerer.fallbackCalls)
	assert.Equal(t, 0, answerer.generateCalls, "no generation call without context")
	assert.Equal(t, 0, resp.ChunksFound)
	assert.Equal(t, "fallback answer for What is X?", resp.Response)
	assert.Empty(t, resp.Chunks)
	assert.Empty(t, resp.Sources)
}

func TestHandleMessage_GeneratesWithChunks(t *testing.T) {
	searcher := &fakeSearcher{results: resultsWith("a", "b", "c", "d", "e")}
	answerer := &fakeAnswerer{}
	svc := NewService(testRegistry(), searcher, answerer, nil, 5, 5)

	resp, err := svc.HandleMessage(context.Background(), Request{
		Message: "What is overfitting?", Subject: "Machine Learning", Unit: "Unit I",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, answerer.generateCalls)
	assert.Equal(t, 0, answerer.fallbackCalls)
	assert.Equal(t, 5, resp.ChunksFound)
	assert.Equal(t, []string{"a", "b", "c"}, resp.Chunks, "preview holds the top three chunks")
	assert.Len(t, resp.Sources, 5)
	assert.Equal(t, "doc-1", resp.Sources[0].DocumentID)

	// The search ran scoped to the resolved subject and unit ids.
	assert.Equal(t, retrieval.Filters{SubjectID: "subj-1", UnitID: "unit-1"}, searcher.lastFilters)
}

func TestHandleMessage_RetrievalErrorDegradesToFallback(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("milvus unreachable")}
	answerer := &fakeAnswerer{}
	svc := NewService(testRegistry(), searcher, answerer, nil, 5, 5)

	resp, err := svc.HandleMessage(context.Background(), Request{
		Message: "q", Subject: "Machine Learning", Unit: "Unit I",
	})
	require.NoError(t, err, "retrieval trouble is not a caller-facing error")

	assert.Equal(t, 1, answerer.fallbackCalls)
	assert.Equal(t, "search temporarily unavailable", answerer.lastReason)
	assert.Equal(t, 0, resp.ChunksFound)
}

func TestHandleMessage_CachesAndServesCachedResponses(t *testing.T) {
	searcher := &fakeSearcher{results: resultsWith("a")}
	answerer := &fakeAnswerer{}
	cache := &fakeCache{}
	svc := NewService(testRegistry(), searcher, answerer, cache, 5, 5)

	req := Request{Message: "q", Subject: "Machine Learning", Unit: "Unit I"}

	first, err := svc.HandleMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, searcher.calls)

	second, err := svc.HandleMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, searcher.calls, "cache hit skips retrieval")
	assert.Equal(t, 1, answerer.generateCalls)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.ChunksFound, second.ChunksFound)
}

func TestHandleMessage_EmptyResultsNotCached(t *testing.T) {
	cache := &fakeCache{}
	svc := NewService(testRegistry(), &fakeSearcher{}, &fakeAnswerer{}, cache, 5, 5)

	_, err := svc.HandleMessage(context.Background(), Request{
		Message: "q", Subject: "Machine Learning", Unit: "Unit I",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.sets)
}
