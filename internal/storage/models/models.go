package models

import "time"

// ProcessingStatus tracks a source document through the ingestion pipeline.
// Transitions are monotonic (pending -> processing -> completed | failed);
// the only regression allowed is an explicit re-ingest back to pending.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal status
// change. Re-ingestion (anything -> pending) is handled separately by
// ResetForReingest, not here.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type Subject struct {
	ID          string
	Code        string
	Name        string
	Description string
	CreatedAt   time.Time
}

type Unit struct {
	ID          string
	SubjectID   string
	Title       string
	Description string
	OrderIndex  int
	CreatedAt   time.Time
}

type SourceDocument struct {
	ID        string
	SubjectID string
	UnitID    string
	SourceURL string
	FileType  string
	Status    ProcessingStatus
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChunkRecord is one retrievable unit of text plus its embedding. The ID is
// "{page}-{index}" and is unique within the owning document; records are
// immutable once built.
type ChunkRecord struct {
	ID             string
	DocumentID     string
	SubjectID      string
	UnitID         string
	Content        string
	Embedding      []float32
	EmbeddingModel string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// PageDocument is what a loader yields per page: the raw extracted text and
// whatever metadata the loader knows (source path, extractor name).
type PageDocument struct {
	Text     string
	Metadata map[string]string
}

// BatchResult summarizes a multi-item operation where individual items may
// fail without aborting the batch.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    []error
}
