package http

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func (s *Server) queueStatsHandler(c *fiber.Ctx) error {
	stats, err := s.queue.Stats(c.Context())
	if err != nil {
		s.logger.Error("queue stats failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "stats failed"))
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

func (s *Server) listDeadLettersHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	letters, err := s.queue.ListDeadLetters(c.Context(), limit)
	if err != nil {
		s.logger.Error("dead letter list failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "listing failed"))
	}
	return c.JSON(fiber.Map{"success": true, "dead_letters": letters, "count": len(letters)})
}

func (s *Server) retryDeadLetterHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid dead letter id"))
	}

	if err := s.queue.RetryDeadLetter(c.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "dead letter not found"))
		}
		s.logger.Error("dead letter retry failed", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "retry failed"))
	}

	s.logger.Info("dead letter requeued", "id", id)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) deleteDeadLetterHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("BAD_REQUEST", "invalid dead letter id"))
	}

	if err := s.queue.DeleteDeadLetter(c.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(errorBody("NOT_FOUND", "dead letter not found"))
		}
		s.logger.Error("dead letter delete failed", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("INTERNAL_ERROR", "delete failed"))
	}
	return c.JSON(fiber.Map{"success": true})
}
