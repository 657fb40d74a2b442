// Package http is the fiber ingress: campaign submission and status, the
// business ops surface, queue introspection, the generation webhook, and
// health/metrics.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"prospector/internal/campaign"
	"prospector/internal/config"
	"prospector/internal/metrics"
	"prospector/internal/queue"
	"prospector/internal/store"
)

type Server struct {
	app         *fiber.App
	config      *config.Config
	store       *store.Store
	queue       *queue.Queue
	coordinator *campaign.Coordinator
	logger      *slog.Logger
	rdb         *redis.Client
}

func NewServer(cfg *config.Config, st *store.Store, q *queue.Queue, coord *campaign.Coordinator, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout: 30 * time.Second,
	})

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	s := &Server{
		app:         app,
		config:      cfg,
		store:       st,
		queue:       q,
		coordinator: coord,
		logger:      logger,
		rdb:         rdb,
	}

	app.Use(s.requestMiddleware)

	app.Get("/healthz", s.healthzHandler)
	app.Get("/metrics", s.metricsHandler)

	// The webhook authenticates by HMAC, not API key.
	app.Post("/v1/webhooks/generation", s.generationWebhookHandler)

	authMw := authMiddleware(cfg)
	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(cfg, rdb)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1 := app.Group("/v1", authMw, rateMw)
	v1.Post("/campaigns", s.createCampaignHandler)
	v1.Get("/campaigns", s.listCampaignsHandler)
	v1.Get("/campaigns/:id", s.campaignStatusHandler)
	v1.Post("/campaigns/:id/cancel", s.cancelCampaignHandler)
	v1.Get("/campaigns/:id/businesses", s.listBusinessesHandler)
	v1.Get("/businesses/:id", s.businessDetailHandler)
	v1.Post("/businesses/:id/revalidate", s.revalidateBusinessHandler)
	v1.Get("/queue/stats", s.queueStatsHandler)
	v1.Get("/queue/dead-letters", s.listDeadLettersHandler)
	v1.Post("/queue/dead-letters/:id/retry", s.retryDeadLetterHandler)
	v1.Delete("/queue/dead-letters/:id", s.deleteDeadLetterHandler)

	return s
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) healthzHandler(c *fiber.Ctx) error {
	// Shallow health: process is up
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.store.DB.PingContext(ctx); err != nil {
		dbStatus = "error"
	}

	redisStatus := "disabled"
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			redisStatus = "error"
		} else {
			redisStatus = "ok"
		}
	}

	status := "ok"
	if dbStatus != "ok" || redisStatus == "error" {
		status = "error"
	}
	return c.JSON(fiber.Map{
		"status": status,
		"db":     dbStatus,
		"redis":  redisStatus,
	})
}

func (s *Server) metricsHandler(c *fiber.Ctx) error {
	// Refresh the depth gauge on scrape so the export reflects now, not
	// the last worker tick.
	if stats, err := s.queue.Stats(c.Context()); err == nil {
		for kind, ks := range stats.Kinds {
			metrics.SetQueueDepth(string(kind), int64(ks.Ready), int64(ks.Leased))
		}
	}
	c.Type("txt")
	return c.SendString(metrics.Export())
}
