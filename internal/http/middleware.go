package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"prospector/internal/config"
	"prospector/internal/metrics"
)

// requestMiddleware assigns a request id, logs, and records metrics.
func (s *Server) requestMiddleware(c *fiber.Ctx) error {
	start := time.Now()

	reqID := c.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.New().String()
	}
	c.Locals("request_id", reqID)
	c.Set("X-Request-Id", reqID)

	err := c.Next()

	latency := time.Since(start)
	status := c.Response().StatusCode()
	metrics.RecordRequest(c.Method(), c.Route().Path, status, latency.Milliseconds())

	if s.logger != nil {
		s.logger.Info("request",
			"request_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency_ms", latency.Milliseconds())
	}
	return err
}

// authMiddleware validates the Authorization: Bearer <key> header against
// the configured static API key.
func authMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled {
			return c.Next()
		}

		rawAuth := c.Get("Authorization")
		if rawAuth == "" || !strings.HasPrefix(rawAuth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(errorBody(
				"UNAUTHENTICATED", "Missing Authorization Bearer token"))
		}
		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		if token == "" || token != cfg.Auth.APIKey {
			return c.Status(fiber.StatusUnauthorized).JSON(errorBody(
				"UNAUTHENTICATED", "Invalid API key"))
		}
		return c.Next()
	}
}

// rateLimitMiddleware enforces a per-minute fixed window per client IP
// using Redis.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := cfg.RateLimit.DefaultPerMinute
		if limit <= 0 {
			return c.Next()
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("prospector:rl:%s:%s", c.IP(), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis trouble must not take the API down with it.
			return c.Next()
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute)
		}
		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(errorBody(
				"RATE_LIMIT_EXCEEDED", "Rate limit exceeded, try again later"))
		}
		return c.Next()
	}
}
