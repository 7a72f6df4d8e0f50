package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/ingestion"
	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/internal/storage/sqlite"
	"github.com/studyrag/backend/pkg/logger"
)

// DocumentHandler registers source documents and triggers their ingestion.
type DocumentHandler struct {
	store    *sqlite.Client
	ingester *ingestion.Service
}

func NewDocumentHandler(store *sqlite.Client, ingester *ingestion.Service) *DocumentHandler {
	return &DocumentHandler{
		store:    store,
		ingester: ingester,
	}
}

func (h *DocumentHandler) RegisterDocument(c *fiber.Ctx) error {
	var req struct {
		Subject   string            `json:"subject"`
		Unit      string            `json:"unit"`
		SourceURL string            `json:"source_url"`
		FileType  string            `json:"file_type"`
		Metadata  map[string]string `json:"metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Subject == "" || req.Unit == "" || req.SourceURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "subject, unit and source_url are required",
		})
	}
	if req.FileType == "" {
		req.FileType = "text/plain"
	}

	subject, err := h.store.GetSubjectByCode(req.Subject)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Subject not found",
			})
		}
		logger.Error("Failed to look up subject", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up subject",
		})
	}

	unit, err := h.store.GetUnit(subject.ID, req.Unit)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unit not found",
			})
		}
		logger.Error("Failed to look up unit", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up unit",
		})
	}

	now := time.Now().UTC()
	doc := &models.SourceDocument{
		ID:        uuid.New().String(),
		SubjectID: subject.ID,
		UnitID:    unit.ID,
		SourceURL: req.SourceURL,
		FileType:  req.FileType,
		Status:    models.StatusPending,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateDocument(doc); err != nil {
		logger.Error("Failed to register document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to register document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     doc.ID,
		"status": doc.Status,
	})
}

func (h *DocumentHandler) IngestDocument(c *fiber.Ctx) error {
	documentID := c.Params("id")

	result, err := h.ingester.Ingest(c.Context(), documentID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to ingest document",
			zap.String("document_id", documentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	return c.JSON(fiber.Map{
		"document_id":  result.DocumentID,
		"chunk_count":  result.ChunkCount,
		"reprocessed":  result.Reprocessed,
		"row_failures": result.StoreFailed,
		"elapsed_ms":   result.Elapsed.Milliseconds(),
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	status := models.ProcessingStatus(c.Query("status"))

	docs, err := h.store.ListDocuments(status)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	out := make([]fiber.Map, 0, len(docs))
	for _, d := range docs {
		out = append(out, fiber.Map{
			"id":         d.ID,
			"subject_id": d.SubjectID,
			"unit_id":    d.UnitID,
			"source_url": d.SourceURL,
			"file_type":  d.FileType,
			"status":     d.Status,
			"created_at": d.CreatedAt,
			"updated_at": d.UpdatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"documents": out,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load document",
		})
	}

	return c.JSON(fiber.Map{
		"id":         doc.ID,
		"subject_id": doc.SubjectID,
		"unit_id":    doc.UnitID,
		"source_url": doc.SourceURL,
		"file_type":  doc.FileType,
		"status":     doc.Status,
		"metadata":   doc.Metadata,
		"created_at": doc.CreatedAt,
		"updated_at": doc.UpdatedAt,
	})
}
