package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"prospector/internal/campaign"
	"prospector/internal/geo"
	"prospector/internal/store"
)

func (s *Server) createCampaignHandler(c *fiber.Ctx) error {
	var req campaign.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid JSON body"))
	}

	created, zones, err := s.coordinator.Create(c.Context(), req)
	if err != nil {
		var dup *campaign.DuplicateError
		if errors.As(err, &dup) {
			return c.Status(fiber.StatusConflict).JSON(errorBody(
				"DUPLICATE_CAMPAIGN", err.Error()))
		}
		var pe *geo.PlannerError
		if errors.As(err, &pe) {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody(
				"UNRESOLVED_GEOGRAPHY", err.Error()))
		}
		var ve *campaign.ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", err.Error()))
		}
		s.logger.Error("campaign create failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody(
			"INTERNAL_ERROR", "campaign creation failed"))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"campaign": created,
		"zones":    zones,
	})
}

func (s *Server) listCampaignsHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	campaigns, err := s.store.ListCampaigns(c.Context(), limit)
	if err != nil {
		s.logger.Error("campaign list failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "listing failed"))
	}
	return c.JSON(fiber.Map{"success": true, "campaigns": campaigns})
}

func (s *Server) campaignStatusHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid campaign id"))
	}

	progress, err := s.coordinator.Progress(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "campaign not found"))
	}
	if err != nil {
		s.logger.Error("campaign status failed", "campaign_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "status aggregation failed"))
	}
	return c.JSON(fiber.Map{"success": true, "progress": progress})
}

func (s *Server) cancelCampaignHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid campaign id"))
	}

	if err := s.coordinator.Cancel(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "campaign not found"))
		}
		s.logger.Error("campaign cancel failed", "campaign_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "cancel failed"))
	}
	return c.JSON(fiber.Map{"success": true})
}
