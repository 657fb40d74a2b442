package http

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"prospector/internal/generate"
	"prospector/internal/store"
)

type generationWebhookPayload struct {
	BusinessID uuid.UUID `json:"business_id"`
	Status     string    `json:"status"`
	SiteURL    string    `json:"site_url"`
}

// generationWebhookHandler receives the generator's completion callback. The
// caller proves itself with an HMAC over the raw body, not an API key.
func (s *Server) generationWebhookHandler(c *fiber.Ctx) error {
	body := c.Body()
	sig := c.Get(generate.SignatureHeader)
	if !generate.VerifySignature(s.config.Generator.WebhookSecret, body, sig) {
		return c.Status(fiber.StatusUnauthorized).JSON(errorBody(
			"INVALID_SIGNATURE", "webhook signature verification failed"))
	}

	var payload generationWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.BusinessID == uuid.Nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid webhook payload"))
	}

	if err := s.store.MarkGenerationCompleted(c.Context(), payload.BusinessID, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "business not found"))
		}
		s.logger.Error("generation webhook failed", "business_id", payload.BusinessID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "callback processing failed"))
	}

	s.logger.Info("generation completed",
		"business_id", payload.BusinessID,
		"status", payload.Status,
		"site_url", payload.SiteURL)
	return c.JSON(fiber.Map{"success": true})
}
