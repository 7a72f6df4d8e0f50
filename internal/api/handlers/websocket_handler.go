package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/chat"
	"github.com/studyrag/backend/pkg/logger"
)

type WebSocketHandler struct {
	service *chat.Service
}

func NewWebSocketHandler(service *chat.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Subject string `json:"subject"`
			Unit    string `json:"unit"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "chat" {
			continue
		}

		err = h.streamResponse(c, chat.Request{
			Message: msg.Message,
			Subject: msg.Subject,
			Unit:    msg.Unit,
		})
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process message")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, req chat.Request) error {
	ctx := context.Background()

	h.sendChunk(c, "status", "Searching course materials...")

	response, err := h.service.HandleMessage(ctx, req)
	if err != nil {
		var nfe *chat.NotFoundError
		if errors.As(err, &nfe) {
			h.sendError(c, nfe.Error())
			return nil
		}
		return err
	}

	words := splitIntoWords(response.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		err := h.sendChunk(c, "chunk", chunk)
		if err != nil {
			return err
		}
	}

	return h.sendComplete(c, response)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, response *chat.Response) error {
	msg := map[string]interface{}{
		"type":         "complete",
		"subject":      response.Subject,
		"unit":         response.Unit,
		"chunks_found": response.ChunksFound,
		"sources":      response.Sources,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
