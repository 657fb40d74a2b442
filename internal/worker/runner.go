// Package worker polls the work queue and dispatches items to the
// pipeline handlers, with per-kind concurrency, lease reaping, and the
// retention sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"prospector/internal/config"
	"prospector/internal/metrics"
	"prospector/internal/queue"
	"prospector/internal/store"
)

// Handler executes one leased work item. A nil return completes the item;
// a queue.PermanentError dead-letters it; anything else reschedules it
// while attempts remain.
type Handler func(ctx context.Context, item *queue.WorkItem) error

// Handlers maps each work kind to its executor.
type Handlers struct {
	ScrapeZone Handler
	Validate   Handler
	Discover   Handler
	Submit     Handler
}

// Error-code prefixes recorded on failed items.
const (
	codeScrapeFailed   = "SCRAPE_FAILED: "
	codeValidateFailed = "VALIDATE_FAILED: "
	codeDiscoverFailed = "DISCOVER_FAILED: "
	codeSubmitFailed   = "SUBMIT_FAILED: "
	codeUnknownKind    = "UNKNOWN_KIND: "
)

// Runner drives the per-kind worker pools.
type Runner struct {
	cfg      *config.Config
	queue    *queue.Queue
	store    *store.Store
	handlers Handlers
	logger   *slog.Logger
	workerID string
}

func NewRunner(cfg *config.Config, q *queue.Queue, st *store.Store, handlers Handlers, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: handlers,
		logger:   logger,
		workerID: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// pools returns the per-kind concurrency from config.
func (r *Runner) pools() map[queue.Kind]int {
	w := r.cfg.Worker
	return map[queue.Kind]int{
		queue.KindScrapeZone:       poolSize(w.ScrapeConcurrency, 2),
		queue.KindValidateBusiness: poolSize(w.ValidateConcurrency, 6),
		queue.KindDiscoverWebsite:  poolSize(w.DiscoverConcurrency, 3),
		queue.KindSubmitGeneration: poolSize(w.SubmitConcurrency, 2),
	}
}

func poolSize(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

// Start runs the pools until the context is cancelled and blocks until all
// in-flight handlers drain.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	leaseFor := time.Duration(r.cfg.Worker.LeaseSeconds) * time.Second
	if leaseFor <= 0 {
		leaseFor = 2 * time.Minute
	}

	var wg sync.WaitGroup
	for kind, n := range r.pools() {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(kind queue.Kind) {
				defer wg.Done()
				r.loop(ctx, kind, pollInterval, leaseFor)
			}(kind)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.maintain(ctx, pollInterval)
	}()

	r.logger.Info("worker pools started", "worker_id", r.workerID, "pools", r.pools())
	wg.Wait()
}

// loop is one worker goroutine pinned to a kind.
func (r *Runner) loop(ctx context.Context, kind queue.Kind, pollInterval, leaseFor time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := r.queue.Lease(ctx, []queue.Kind{kind}, leaseFor, r.workerID)
		if err != nil {
			r.logger.Error("lease failed", "kind", kind, "error", err)
			sleep(ctx, pollInterval)
			continue
		}
		if item == nil {
			sleep(ctx, pollInterval)
			continue
		}
		r.handle(ctx, item)
	}
}

func (r *Runner) handle(ctx context.Context, item *queue.WorkItem) {
	handler, prefix := r.dispatch(item.Kind)
	if handler == nil {
		r.logger.Error("no handler for kind", "kind", item.Kind, "item_id", item.ID)
		if err := r.queue.Fail(ctx, item.ID, codeUnknownKind+string(item.Kind), false); err != nil {
			r.logger.Error("fail failed", "item_id", item.ID, "error", err)
		}
		metrics.RecordWorkItem(string(item.Kind), "dead_letter")
		return
	}

	start := time.Now()
	err := handler(ctx, item)
	elapsed := time.Since(start)

	if err == nil {
		if err := r.queue.Complete(ctx, item.ID); err != nil {
			r.logger.Error("complete failed", "item_id", item.ID, "error", err)
		}
		metrics.RecordWorkItem(string(item.Kind), "completed")
		r.logger.Debug("work item completed",
			"kind", item.Kind, "item_id", item.ID, "elapsed_ms", elapsed.Milliseconds())
		return
	}

	retryable := !queue.IsPermanent(err)
	willRetry := queue.ShouldRetry(retryable, item.Attempts+1, item.MaxAttempts)
	if failErr := r.queue.Fail(ctx, item.ID, prefix+err.Error(), retryable); failErr != nil {
		r.logger.Error("fail failed", "item_id", item.ID, "error", failErr)
	}
	outcome := "retried"
	if !willRetry {
		outcome = "dead_letter"
	}
	metrics.RecordWorkItem(string(item.Kind), outcome)
	r.logger.Warn("work item failed",
		"kind", item.Kind, "item_id", item.ID, "attempt", item.Attempts+1,
		"max_attempts", item.MaxAttempts, "retry", willRetry, "error", err)
}

func (r *Runner) dispatch(kind queue.Kind) (Handler, string) {
	switch kind {
	case queue.KindScrapeZone:
		return r.handlers.ScrapeZone, codeScrapeFailed
	case queue.KindValidateBusiness:
		return r.handlers.Validate, codeValidateFailed
	case queue.KindDiscoverWebsite:
		return r.handlers.Discover, codeDiscoverFailed
	case queue.KindSubmitGeneration:
		return r.handlers.Submit, codeSubmitFailed
	}
	return nil, codeUnknownKind
}

// maintain runs the lease reaper every tick and the retention sweep on its
// own interval.
func (r *Runner) maintain(ctx context.Context, pollInterval time.Duration) {
	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var lastCleanup time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := r.queue.ReapExpired(ctx); err != nil {
			r.logger.Error("lease reap failed", "error", err)
		} else if n > 0 {
			r.logger.Info("reclaimed expired leases", "count", n)
		}

		if r.cfg.Retention.Enabled {
			now := time.Now().UTC()
			if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
				CleanupExpiredData(ctx, r.cfg, r.store, r.logger)
				lastCleanup = now
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
