package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"prospector/internal/campaign"
	"prospector/internal/config"
	"prospector/internal/disposition"
	"prospector/internal/generate"
	"prospector/internal/geo"
	server "prospector/internal/http"
	"prospector/internal/listing"
	"prospector/internal/llm"
	"prospector/internal/migrate"
	"prospector/internal/prescreen"
	"prospector/internal/queue"
	"prospector/internal/ratelimit"
	"prospector/internal/render"
	"prospector/internal/search"
	"prospector/internal/store"
	"prospector/internal/verify"
	"prospector/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Migrations run on their own short-lived connection.
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)
	q := queue.New(db, queue.Backoff{
		Base: time.Duration(cfg.Worker.Retry.BackoffBaseSeconds) * time.Second,
		Cap:  time.Duration(cfg.Worker.Retry.BackoffCapSeconds) * time.Second,
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// Provider rate limiters share Redis when configured so limits hold
	// across processes; otherwise they fall back to in-process buckets.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		} else {
			logger.Warn("invalid redis url, limiters run in-process", "error", err)
		}
	}

	listingClient := listing.NewClient(cfg.Listing.BaseURL, cfg.Listing.APIKey, cfg.Listing.Language,
		time.Duration(cfg.Listing.TimeoutSeconds)*time.Second,
		ratelimit.New("listing", cfg.Listing.RatePerSecond, rdb))
	searchClient := search.NewClient(cfg.Search.BaseURL, cfg.Search.APIKey, cfg.Search.MaxResults,
		time.Duration(cfg.Search.TimeoutSeconds)*time.Second,
		ratelimit.New("search", cfg.Search.RatePerSecond, rdb))

	llmClient, provider, modelName, err := llm.NewClientFromConfig(cfg)
	if err != nil {
		log.Fatalf("llm client failed: %v", err)
	}
	logger.Info("llm ready", "provider", provider, "model", modelName)

	geocoder := geo.NewHTTPGeocoder(cfg.Geocoder.BaseURL, cfg.Geocoder.Language,
		time.Duration(cfg.Geocoder.TimeoutSeconds)*time.Second)
	planner := geo.NewPlanner(geocoder, llmClient, logger)

	coordinator := campaign.NewCoordinator(st, q, planner, listingClient, logger)
	coordinator.SearchLimit = cfg.Listing.MaxResults

	checker := prescreen.NewChecker(cfg.Prescreen.ExtraBlockedHosts, cfg.Prescreen.DNSResolver,
		time.Duration(cfg.Prescreen.ConnectTimeoutSeconds)*time.Second,
		time.Duration(cfg.Prescreen.HTTPTimeoutSeconds)*time.Second)

	renderer := render.New(render.Options{
		BrowserURL:    cfg.Render.BrowserURL,
		Timeout:       time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.Render.MaxConcurrent,
		PoolWait:      time.Duration(cfg.Render.PoolWaitSeconds) * time.Second,
		UserAgents:    cfg.Render.UserAgents,
		ScreenshotDir: cfg.Render.ScreenshotDir,
		RespectRobots: cfg.Render.RespectRobots,
	})

	engine := disposition.NewEngine(st, checker, renderer, verify.New(llmClient), searchClient, logger)
	if cfg.Search.MaxResults > 0 {
		engine.SearchTopN = cfg.Search.MaxResults
	}

	submitter := generate.NewSubmitter(st,
		generate.NewClient(cfg.Generator.BaseURL, cfg.Generator.APIKey,
			time.Duration(cfg.Generator.TimeoutSeconds)*time.Second),
		logger)

	runner := worker.NewRunner(cfg, q, st, worker.Handlers{
		ScrapeZone: coordinator.ExecuteScrapeZone,
		Validate:   engine.ExecuteValidate,
		Discover:   engine.ExecuteDiscover,
		Submit:     submitter.ExecuteSubmitGeneration,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *role {
	case "api":
		runAPI(ctx, cfg, st, q, coordinator, logger)
	case "worker":
		runner.Start(ctx)
	case "all":
		go runner.Start(ctx)
		runAPI(ctx, cfg, st, q, coordinator, logger)
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, st *store.Store, q *queue.Queue,
	coord *campaign.Coordinator, logger *slog.Logger) {
	s := server.NewServer(cfg, st, q, coord, logger)

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
