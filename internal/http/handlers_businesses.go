package http

import (
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"prospector/internal/disposition"
	"prospector/internal/model"
	"prospector/internal/queue"
	"prospector/internal/store"
)

func (s *Server) listBusinessesHandler(c *fiber.Ctx) error {
	campaignID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid campaign id"))
	}

	state := model.WebsiteStatus(c.Query("state"))
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	businesses, err := s.store.ListBusinesses(c.Context(), campaignID, state, limit, offset)
	if err != nil {
		s.logger.Error("business list failed", "campaign_id", campaignID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "listing failed"))
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"businesses": businesses,
		"count":      len(businesses),
		"offset":     offset,
	})
}

func (s *Server) businessDetailHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid business id"))
	}

	b, err := s.store.GetBusiness(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "business not found"))
	}
	if err != nil {
		s.logger.Error("business fetch failed", "business_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "fetch failed"))
	}

	records, err := s.store.ValidationRecordsByBusiness(c.Context(), id)
	if err != nil {
		s.logger.Error("validation records fetch failed", "business_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "fetch failed"))
	}

	return c.JSON(fiber.Map{
		"success":            true,
		"business":           b,
		"validation_records": records,
	})
}

// revalidateBusinessHandler is the manual re-entry lane: an operator moves a
// business that dead-ended in invalid_technical or error back through
// verification.
func (s *Server) revalidateBusinessHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid business id"))
	}

	var conflictState model.WebsiteStatus
	err = s.store.Tx(c.Context(), func(tx *sql.Tx) error {
		b, err := store.GetBusinessForUpdate(c.Context(), tx, id)
		if err != nil {
			return err
		}
		if b.Status != model.StatusInvalidTechnical && b.Status != model.StatusError {
			conflictState = b.Status
			return nil
		}
		entry := requeueEntry(b, time.Now().UTC())
		if err := disposition.Transition(b, model.StatusNeedsVerification); err != nil {
			return err
		}
		b.Metadata = b.Metadata.AppendHistory(entry)
		if err := store.UpdateDisposition(c.Context(), tx, b); err != nil {
			return err
		}
		_, err = queue.Enqueue(c.Context(), tx, queue.Item{
			Kind:     queue.KindValidateBusiness,
			Payload:  disposition.BusinessPayload{BusinessID: b.ID},
			DedupKey: queue.ValidateDedupKey(b.ID),
		})
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "business not found"))
	}
	if err != nil {
		s.logger.Error("revalidate failed", "business_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "revalidation failed"))
	}
	if conflictState != "" {
		return c.Status(fiber.StatusConflict).JSON(errorBody(
			"INVALID_STATE", "business is in state "+string(conflictState)+", only invalid_technical and error can be revalidated"))
	}

	s.logger.Info("business requeued for verification", "business_id", id)
	return c.JSON(fiber.Map{"success": true, "status": model.StatusNeedsVerification})
}

// requeueEntry is the history line for an operator-initiated re-entry. The
// operator marker keeps the latest entry in agreement with the
// needs_verification state and records the state the business came from.
func requeueEntry(b *model.Business, at time.Time) model.ValidationEntry {
	return model.ValidationEntry{
		Timestamp:    at,
		URLEvaluated: b.CurrentURL(),
		Verdict:      model.VerdictOperator,
		Confidence:   1,
		Reasoning:    "operator requested revalidation from " + string(b.Status),
	}
}
