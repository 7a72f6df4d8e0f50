package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/storage/models"
	"github.com/studyrag/backend/internal/storage/sqlite"
	"github.com/studyrag/backend/pkg/logger"
)

// CatalogHandler serves the subject and unit registry.
type CatalogHandler struct {
	store *sqlite.Client
}

func NewCatalogHandler(store *sqlite.Client) *CatalogHandler {
	return &CatalogHandler{
		store: store,
	}
}

func (h *CatalogHandler) CreateSubject(c *fiber.Ctx) error {
	var req struct {
		Code        string `json:"code"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Code == "" || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Code and name are required",
		})
	}

	subject := &models.Subject{
		ID:          uuid.New().String(),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.store.CreateSubject(subject); err != nil {
		if errors.Is(err, sqlite.ErrDuplicate) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Subject code already exists",
			})
		}
		logger.Error("Failed to create subject", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create subject",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(subjectJSON(subject))
}

func (h *CatalogHandler) ListSubjects(c *fiber.Ctx) error {
	subjects, err := h.store.ListSubjects()
	if err != nil {
		logger.Error("Failed to list subjects", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list subjects",
		})
	}

	out := make([]fiber.Map, 0, len(subjects))
	for i := range subjects {
		out = append(out, subjectJSON(&subjects[i]))
	}

	return c.JSON(fiber.Map{
		"subjects": out,
	})
}

func (h *CatalogHandler) CreateUnit(c *fiber.Ctx) error {
	subject, err := h.store.GetSubjectByCode(c.Params("code"))
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

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		OrderIndex  int    `json:"order_index"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	unit := &models.Unit{
		ID:          uuid.New().String(),
		SubjectID:   subject.ID,
		Title:       req.Title,
		Description: req.Description,
		OrderIndex:  req.OrderIndex,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.store.CreateUnit(unit); err != nil {
		if errors.Is(err, sqlite.ErrDuplicate) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Unit title already exists for this subject",
			})
		}
		logger.Error("Failed to create unit", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create unit",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(unitJSON(unit))
}

func (h *CatalogHandler) ListUnits(c *fiber.Ctx) error {
	subject, err := h.store.GetSubjectByCode(c.Params("code"))
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

	units, err := h.store.ListUnits(subject.ID)
	if err != nil {
		logger.Error("Failed to list units", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list units",
		})
	}

	out := make([]fiber.Map, 0, len(units))
	for i := range units {
		out = append(out, unitJSON(&units[i]))
	}

	return c.JSON(fiber.Map{
		"units": out,
	})
}

func subjectJSON(s *models.Subject) fiber.Map {
	return fiber.Map{
		"id":          s.ID,
		"code":        s.Code,
		"name":        s.Name,
		"description": s.Description,
		"created_at":  s.CreatedAt,
	}
}

func unitJSON(u *models.Unit) fiber.Map {
	return fiber.Map{
		"id":          u.ID,
		"subject_id":  u.SubjectID,
		"title":       u.Title,
		"description": u.Description,
		"order_index": u.OrderIndex,
		"created_at":  u.CreatedAt,
	}
}
