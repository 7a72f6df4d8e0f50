package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/chat"
	"github.com/studyrag/backend/pkg/logger"
)

type ChatHandler struct {
	service *chat.Service
}

func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{
		service: service,
	}
}

func (h *ChatHandler) HandleMessage(c *fiber.Ctx) error {
	var req struct {
		Message string `json:"message"`
		Subject string `json:"subject"`
		Unit    string `json:"unit"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}
	if req.Subject == "" || req.Unit == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Subject and unit are required",
		})
	}

	response, err := h.service.HandleMessage(c.Context(), chat.Request{
		Message: req.Message,
		Subject: req.Subject,
		Unit:    req.Unit,
	})
	if err != nil {
		var nfe *chat.NotFoundError
		if errors.As(err, &nfe) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": nfe.Error(),
			})
		}
		logger.Error("Failed to handle chat message", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}

	return c.JSON(response)
}
