package ingestion

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyrag/backend/internal/storage/models"
)

type fakeLoader struct {
	pages []models.PageDocument
	err   error
}

func (f *fakeLoader) LoadPages(_ context.Context, _ string) ([]models.PageDocument, error) {
	return f.pages, f.err
}

type fakeEmbedder struct {
	calls int
	dim   int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, dim)
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embedding-model" }

func newTestProcessor(t *testing.T, embedder Embedder, cfg ProcessorConfig, pages []models.PageDocument) *Processor {
	t.Helper()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	p, err := NewProcessor(embedder, cfg)
	require.NoError(t, err)
	return p.WithLoader(&fakeLoader{pages: pages})
}

func testDoc() *models.SourceDocument {
	return &models.SourceDocument{
		ID:        "doc-1",
		SubjectID: "subj-1",
		UnitID:    "unit-1",
		SourceURL: "/notes/unit1.txt",
		FileType:  "text/plain",
		Status:    models.StatusPending,
	}
}

func TestProcess_ChunkIDsAreStableAndPerPage(t *testing.T) {
	embedder := &fakeEmbedder{}
	long := strings.Repeat("Useful sentence about learning. ", 8)
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 120, ChunkOverlap: 20, MinChunkChars: 10}, []models.PageDocument{
		{Text: long},
		{Text: long},
	})

	records, err := p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	require.NotEmpty(t, records)

	// IDs are "{page}-{index}" with the index restarting on each page, and the
	// full set is unique within the document.
	seen := make(map[string]struct{})
	perPageNext := map[string]int{}
	for _, r := range records {
		_, dup := seen[r.ID]
		assert.False(t, dup, "duplicate chunk id %s", r.ID)
		seen[r.ID] = struct{}{}

		parts := strings.SplitN(r.ID, "-", 2)
		require.Len(t, parts, 2)
		assert.Equal(t, parts[0], r.Metadata["page_number"])
		assert.Equal(t, parts[1], r.Metadata["chunk_index"])

		idx, err := strconv.Atoi(parts[1])
		require.NoError(t, err)
		assert.Equal(t, perPageNext[parts[0]], idx, "index within page %s must be sequential", parts[0])
		perPageNext[parts[0]]++
	}

	assert.Equal(t, "1-0", records[0].ID)

	// Both pages produced chunks, and the second page starts again at index 0.
	assert.Contains(t, seen, "2-0")
}

func TestProcess_FiltersShortChunks(t *testing.T) {
	embedder := &fakeEmbedder{}
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 1000, ChunkOverlap: 200, MinChunkChars: 200}, []models.PageDocument{
		{Text: "This page has only fifty characters of content!!"},
	})

	records, err := p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, embedder.calls, "no embedding call for an empty chunk set")
}

func TestProcess_EmptyPagesSkipEmbedding(t *testing.T) {
	embedder := &fakeEmbedder{}
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 100, MinChunkChars: 10}, []models.PageDocument{
		{Text: ""},
		{Text: "Page 3\nSt. Joseph's College of Engineering 3 Dept of AML"},
	})

	records, err := p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, embedder.calls)
}

func TestProcess_SingleEmbeddingBatch(t *testing.T) {
	embedder := &fakeEmbedder{}
	long := strings.Repeat("Another useful sentence here. ", 10)
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 90, ChunkOverlap: 0, MinChunkChars: 10}, []models.PageDocument{
		{Text: long},
		{Text: long},
		{Text: long},
	})

	records, err := p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, 1, embedder.calls, "all chunks embed in one batch call")

	for _, r := range records {
		assert.Equal(t, "fake-embedding-model", r.EmbeddingModel)
		assert.Len(t, r.Embedding, 4)
		assert.Equal(t, "doc-1", r.DocumentID)
		assert.Equal(t, "subj-1", r.SubjectID)
		assert.Equal(t, "unit-1", r.UnitID)
		assert.Equal(t, "/notes/unit1.txt", r.Metadata["source"])
	}
}

func TestProcess_EmbeddingFailureReturnsNoPartialRecords(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding service unavailable")}
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 100, MinChunkChars: 5}, []models.PageDocument{
		{Text: "Real content that would normally produce chunks."},
	})

	records, err := p.Process(context.Background(), testDoc())
	assert.Error(t, err)
	assert.Nil(t, records)
}

func TestProcess_LoaderFailure(t *testing.T) {
	embedder := &fakeEmbedder{}
	p, err := NewProcessor(embedder, ProcessorConfig{ChunkSize: 100})
	require.NoError(t, err)
	p.WithLoader(&fakeLoader{err: errors.New("file missing")})

	_, err = p.Process(context.Background(), testDoc())
	assert.Error(t, err)
	assert.Equal(t, 0, embedder.calls)
}

func TestProcess_PageMetadataMergedWithoutOverride(t *testing.T) {
	embedder := &fakeEmbedder{}
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 200, MinChunkChars: 5}, []models.PageDocument{
		{
			Text: "Support vector machines maximize the margin between classes.",
			Metadata: map[string]string{
				"loader":      "page_text",
				"page_number": "999", // must not clobber the computed value
			},
		},
	})

	records, err := p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "page_text", records[0].Metadata["loader"])
	assert.Equal(t, "1", records[0].Metadata["page_number"])
	assert.Equal(t, "1-0", records[0].Metadata["chunk_id"])
}

func TestProcess_DedupeAcrossPages(t *testing.T) {
	embedder := &fakeEmbedder{}
	repeated := "A definition repeated on every page of the handout."

	// Per-page scope keeps the repetition.
	p := newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 200, MinChunkChars: 5}, []models.PageDocument{
		{Text: repeated}, {Text: repeated},
	})
	records, err := p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// Document scope drops the second occurrence.
	p = newTestProcessor(t, embedder, ProcessorConfig{ChunkSize: 200, MinChunkChars: 5, DedupeAcrossPages: true}, []models.PageDocument{
		{Text: repeated}, {Text: repeated},
	})
	records, err = p.Process(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "1-0", records[0].ID)
}
