package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/pkg/logger"
)

// Embedder is the document-intent embedding capability the processor depends
// on. An empty input must return an empty result without a service call.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

type ProcessorConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	MinChunkChars     int
	DedupeAcrossPages bool
	Stripper          StripperConfig
}

// Processor runs the document-to-chunk pipeline: load pages, normalize, strip
// boilerplate, split with overlap, drop tiny fragments, batch-embed, assign
// stable per-page chunk identifiers. Steps inside one document are strictly
// sequential; the processor holds no per-document state, so independent
// documents may be processed concurrently through one instance.
type Processor struct {
	loader            Loader
	normalizer        *Normalizer
	stripper          *BoilerplateStripper
	splitter          *Splitter
	embedder          Embedder
	minChunkChars     int
	dedupeAcrossPages bool
}

func NewProcessor(embedder Embedder, cfg ProcessorConfig) (*Processor, error) {
	splitter, err := NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	stripper, err := NewBoilerplateStripper(cfg.Stripper)
	if err != nil {
		return nil, fmt.Errorf("invalid stripper config: %w", err)
	}

	if cfg.MinChunkChars < 0 {
		return nil, fmt.Errorf("min chunk chars must be non-negative, got %d", cfg.MinChunkChars)
	}

	return &Processor{
		normalizer:        NewNormalizer(),
		stripper:          stripper,
		splitter:          splitter,
		embedder:          embedder,
		minChunkChars:     cfg.MinChunkChars,
		dedupeAcrossPages: cfg.DedupeAcrossPages,
	}, nil
}

// WithLoader overrides the MIME-type based loader selection. Used by tests
// and by callers that already hold extracted pages.
func (p *Processor) WithLoader(loader Loader) *Processor {
	p.loader = loader
	return p
}

type fragment struct {
	content     string
	pageNumber  int
	indexInPage int
	pageMeta    map[string]string
}

// Process produces embedded chunk records for one source document. An empty
// result is not an error; a failed embedding call is, and no partial records
// are returned in that case.
func (p *Processor) Process(ctx context.Context, doc *models.SourceDocument) ([]models.ChunkRecord, error) {
	loader := p.loader
	if loader == nil {
		loader = LoaderFor(doc.FileType)
	}

	pages, err := loader.LoadPages(ctx, doc.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}

	var docSeen map[string]struct{}
	if p.dedupeAcrossPages {
		docSeen = make(map[string]struct{})
	}

	var fragments []fragment
	for i, page := range pages {
		pageNumber := i + 1

		cleaned := p.normalizer.Normalize(page.Text)
		cleaned = p.stripper.StripWithSeen(cleaned, docSeen)
		if cleaned == "" {
			continue
		}

		indexInPage := 0
		for _, segment := range p.splitter.Split(cleaned) {
			if len(segment) < p.minChunkChars {
				continue
			}
			fragments = append(fragments, fragment{
				content:     segment,
				pageNumber:  pageNumber,
				indexInPage: indexInPage,
				pageMeta:    page.Metadata,
			})
			indexInPage++
		}
	}

	if len(fragments) == 0 {
		logger.Info("No chunks produced for document",
			zap.String("document_id", doc.ID),
			zap.String("source", doc.SourceURL),
		)
		return nil, nil
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.content
	}

	embeddings, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(fragments) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(fragments))
	}

	modelName := p.embedder.ModelName()
	now := time.Now()

	records := make([]models.ChunkRecord, 0, len(fragments))
	for i, f := range fragments {
		chunkID := fmt.Sprintf("%d-%d", f.pageNumber, f.indexInPage)

		meta := map[string]string{
			"page_number": strconv.Itoa(f.pageNumber),
			"chunk_index": strconv.Itoa(f.indexInPage),
			"chunk_id":    chunkID,
			"source":      doc.SourceURL,
		}
		for k, v := range f.pageMeta {
			if _, ok := meta[k]; !ok {
				meta[k] = v
			}
		}

		records = append(records, models.ChunkRecord{
			ID:             chunkID,
			DocumentID:     doc.ID,
			SubjectID:      doc.SubjectID,
			UnitID:         doc.UnitID,
			Content:        f.content,
			Embedding:      embeddings[i],
			EmbeddingModel: modelName,
			Metadata:       meta,
			CreatedAt:      now,
		})
	}

	logger.Info("Document chunked and embedded",
		zap.String("document_id", doc.ID),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(records)),
	)

	return records, nil
}
