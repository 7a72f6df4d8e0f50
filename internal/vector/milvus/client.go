package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/pkg/logger"
)

// Client wraps one Milvus collection holding embedded chunks. The primary key
// is "{document_id}:{chunk_id}" since chunk identifiers are only unique
// within their owning document.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// SearchResult is one ranked chunk returned by similarity search. Score is
// the raw vector distance at this layer; the retriever converts and blends.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	SubjectID  string
	UnitID     string
	Content    string
	PageNumber int64
	Score      float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Course material chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "pk",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "subject_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "unit_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "chunk_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "embedding_model",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "page_number",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []models.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	pks := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	contents := make([]string, len(chunks))
	documentIDs := make([]string, len(chunks))
	subjectIDs := make([]string, len(chunks))
	unitIDs := make([]string, len(chunks))
	chunkIDs := make([]string, len(chunks))
	embeddingModels := make([]string, len(chunks))
	pageNumbers := make([]int64, len(chunks))
	createdAts := make([]int64, len(chunks))

	for i, chunk := range chunks {
		pks[i] = fmt.Sprintf("%s:%s", chunk.DocumentID, chunk.ID)
		embeddings[i] = chunk.Embedding
		contents[i] = chunk.Content
		documentIDs[i] = chunk.DocumentID
		subjectIDs[i] = chunk.SubjectID
		unitIDs[i] = chunk.UnitID
		chunkIDs[i] = chunk.ID
		embeddingModels[i] = chunk.EmbeddingModel
		pageNumbers[i] = pageNumber(chunk)
		createdAts[i] = chunk.CreatedAt.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("pk", pks),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("subject_id", subjectIDs),
		entity.NewColumnVarChar("unit_id", unitIDs),
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("embedding_model", embeddingModels),
		entity.NewColumnInt64("page_number", pageNumbers),
		entity.NewColumnInt64("created_at", createdAts),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector store", zap.Int("count", len(chunks)))

	return nil
}

// DeleteByDocument removes every chunk owned by a document. Used on
// re-ingestion and on document deletion so chunks are never orphaned.
func (m *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`document_id == "%s"`, documentID)
	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	logger.Info("Chunks deleted for document", zap.String("document_id", documentID))
	return nil
}

// Search returns the topK nearest chunks, restricted to a subject/unit when
// given. The filter is a structural pre-filter, not a ranking signal.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, subjectID, unitID string) ([]SearchResult, error) {
	expr := ""
	if subjectID != "" {
		expr = fmt.Sprintf(`subject_id == "%s"`, subjectID)
	}
	if unitID != "" {
		if expr != "" {
			expr += " && "
		}
		expr += fmt.Sprintf(`unit_id == "%s"`, unitID)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "content", "document_id", "subject_id", "unit_id", "page_number"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			content, _ := sr.Fields.GetColumn("content").Get(i)
			documentID, _ := sr.Fields.GetColumn("document_id").Get(i)
			subject, _ := sr.Fields.GetColumn("subject_id").Get(i)
			unit, _ := sr.Fields.GetColumn("unit_id").Get(i)
			page, _ := sr.Fields.GetColumn("page_number").Get(i)

			results = append(results, SearchResult{
				ChunkID:    chunkID.(string),
				Content:    content.(string),
				DocumentID: documentID.(string),
				SubjectID:  subject.(string),
				UnitID:     unit.(string),
				PageNumber: page.(int64),
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}

func pageNumber(chunk models.ChunkRecord) int64 {
	var page int64
	fmt.Sscanf(chunk.Metadata["page_number"], "%d", &page)
	return page
}
