package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/pkg/logger"
)

var (
	// ErrNotFound marks an expected miss on a lookup. Callers translate it
	// into a user-facing message, never a 500.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate marks a unique-key violation on insert.
	ErrDuplicate = errors.New("duplicate key")

	// ErrBadTransition marks an illegal processing-status change.
	ErrBadTransition = errors.New("illegal status transition")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		code TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subjects_code ON subjects(code);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		order_index INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (subject_id) REFERENCES subjects(id) ON DELETE CASCADE,
		UNIQUE (subject_id, title)
	);
	CREATE INDEX IF NOT EXISTS idx_units_subject ON units(subject_id);

	CREATE TABLE IF NOT EXISTS source_documents (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		source_url TEXT NOT NULL,
		file_type TEXT NOT NULL DEFAULT 'application/pdf',
		processing_status TEXT NOT NULL DEFAULT 'pending',
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (subject_id) REFERENCES subjects(id) ON DELETE CASCADE,
		FOREIGN KEY (unit_id) REFERENCES units(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_documents_subject ON source_documents(subject_id);
	CREATE INDEX IF NOT EXISTS idx_documents_unit ON source_documents(unit_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON source_documents(processing_status);

	CREATE TABLE IF NOT EXISTS chunks (
		pk TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES source_documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_subject_unit ON chunks(subject_id, unit_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateSubject(subject *models.Subject) error {
	query := `INSERT INTO subjects (id, code, name, description, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, subject.ID, subject.Code, subject.Name, subject.Description, subject.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subject code %q: %w", subject.Code, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert subject: %w", err)
	}

	logger.Debug("Subject created", zap.String("code", subject.Code))
	return nil
}

func (c *Client) GetSubjectByCode(code string) (*models.Subject, error) {
	query := `SELECT id, code, name, description, created_at FROM subjects WHERE code = ?`

	var s models.Subject
	var createdAt int64
	var description sql.NullString

	err := c.db.QueryRow(query, code).Scan(&s.ID, &s.Code, &s.Name, &description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subject %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	s.Description = description.String
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

func (c *Client) GetSubjectByName(name string) (*models.Subject, error) {
	query := `SELECT id, code, name, description, created_at FROM subjects WHERE name = ?`

	var s models.Subject
	var createdAt int64
	var description sql.NullString

	err := c.db.QueryRow(query, name).Scan(&s.ID, &s.Code, &s.Name, &description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subject %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	s.Description = description.String
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

func (c *Client) ListSubjects() ([]models.Subject, error) {
	rows, err := c.db.Query(`SELECT id, code, name, description, created_at FROM subjects ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var s models.Subject
		var createdAt int64
		var description sql.NullString
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		s.Description = description.String
		s.CreatedAt = time.Unix(createdAt, 0)
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

func (c *Client) CreateUnit(unit *models.Unit) error {
	query := `INSERT INTO units (id, subject_id, title, description, order_index, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, unit.ID, unit.SubjectID, unit.Title, unit.Description, unit.OrderIndex, unit.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("unit %q in subject %s: %w", unit.Title, unit.SubjectID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert unit: %w", err)
	}

	logger.Debug("Unit created", zap.String("title", unit.Title), zap.String("subject_id", unit.SubjectID))
	return nil
}

func (c *Client) GetUnit(subjectID, title string) (*models.Unit, error) {
	query := `SELECT id, subject_id, title, description, order_index, created_at FROM units WHERE subject_id = ? AND title = ?`

	var u models.Unit
	var createdAt int64
	var description sql.NullString

	err := c.db.QueryRow(query, subjectID, title).Scan(&u.ID, &u.SubjectID, &u.Title, &description, &u.OrderIndex, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unit %q: %w", title, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}

	u.Description = description.String
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func (c *Client) ListUnits(subjectID string) ([]models.Unit, error) {
	rows, err := c.db.Query(
		`SELECT id, subject_id, title, description, order_index, created_at FROM units WHERE subject_id = ? ORDER BY order_index, title`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		var u models.Unit
		var createdAt int64
		var description sql.NullString
		if err := rows.Scan(&u.ID, &u.SubjectID, &u.Title, &description, &u.OrderIndex, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.Description = description.String
		u.CreatedAt = time.Unix(createdAt, 0)
		units = append(units, u)
	}
	return units, rows.Err()
}

func (c *Client) CreateDocument(doc *models.SourceDocument) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO source_documents (id, subject_id, unit_id, source_url, file_type, processing_status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(query,
		doc.ID, doc.SubjectID, doc.UnitID, doc.SourceURL, doc.FileType,
		string(doc.Status), string(metadata), doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document %s: %w", doc.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document registered", zap.String("document_id", doc.ID), zap.String("source", doc.SourceURL))
	return nil
}

func (c *Client) GetDocument(id string) (*models.SourceDocument, error) {
	query := `
		SELECT id, subject_id, unit_id, source_url, file_type, processing_status, metadata, created_at, updated_at
		FROM source_documents WHERE id = ?
	`

	var doc models.SourceDocument
	var status, metadata string
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID, &doc.SubjectID, &doc.UnitID, &doc.SourceURL, &doc.FileType,
		&status, &metadata, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Status = models.ProcessingStatus(status)
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &doc, nil
}

func (c *Client) ListDocuments(status models.ProcessingStatus) ([]models.SourceDocument, error) {
	query := `
		SELECT id, subject_id, unit_id, source_url, file_type, processing_status, metadata, created_at, updated_at
		FROM source_documents
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE processing_status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.SourceDocument
	for rows.Next() {
		var doc models.SourceDocument
		var docStatus, metadata string
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&doc.ID, &doc.SubjectID, &doc.UnitID, &doc.SourceURL, &doc.FileType,
			&docStatus, &metadata, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Status = models.ProcessingStatus(docStatus)
		doc.CreatedAt = time.Unix(createdAt, 0)
		doc.UpdatedAt = time.Unix(updatedAt, 0)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus moves a document along the monotonic status path and
// refreshes updated_at. Illegal transitions are rejected.
func (c *Client) UpdateDocumentStatus(id string, next models.ProcessingStatus) error {
	doc, err := c.GetDocument(id)
	if err != nil {
		return err
	}

	if !doc.Status.CanTransition(next) {
		return fmt.Errorf("document %s: %s -> %s: %w", id, doc.Status, next, ErrBadTransition)
	}

	_, err = c.db.Exec(
		`UPDATE source_documents SET processing_status = ?, updated_at = ? WHERE id = ?`,
		string(next), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	logger.Info("Document status updated",
		zap.String("document_id", id),
		zap.String("from", string(doc.Status)),
		zap.String("to", string(next)),
	)
	return nil
}

// ResetForReingest is the one sanctioned regression: back to pending so the
// pipeline can run again. Existing chunk rows for the document are removed.
func (c *Client) ResetForReingest(id string) error {
	res, err := c.db.Exec(
		`UPDATE source_documents SET processing_status = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusPending), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset document: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	if err := c.DeleteChunksByDocument(id); err != nil {
		return err
	}

	logger.Info("Document reset for re-ingestion", zap.String("document_id", id))
	return nil
}

// InsertChunks records chunk bookkeeping rows. Individual failures do not
// abort the batch; the result carries per-item errors and counts.
func (c *Client) InsertChunks(chunks []models.ChunkRecord) models.BatchResult {
	var result models.BatchResult

	query := `
		INSERT INTO chunks (pk, chunk_id, document_id, subject_id, unit_id, content, embedding_model, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, chunk := range chunks {
		metadata, err := json.Marshal(chunk.Metadata)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("chunk %s: %w", chunk.ID, err))
			continue
		}

		pk := fmt.Sprintf("%s:%s", chunk.DocumentID, chunk.ID)
		_, err = c.db.Exec(query,
			pk, chunk.ID, chunk.DocumentID, chunk.SubjectID, chunk.UnitID,
			chunk.Content, chunk.EmbeddingModel, string(metadata), chunk.CreatedAt.Unix(),
		)
		if err != nil {
			result.Failed++
			if isUniqueViolation(err) {
				err = fmt.Errorf("chunk %s: %w", pk, ErrDuplicate)
			}
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Succeeded++
	}

	if result.Failed > 0 {
		logger.Warn("Chunk batch insert finished with failures",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}
	return result
}

func (c *Client) DeleteChunksByDocument(documentID string) error {
	_, err := c.db.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
