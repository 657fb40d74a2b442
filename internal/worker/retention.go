package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"prospector/internal/config"
	"prospector/internal/metrics"
	"prospector/internal/store"
)

// RetentionStats captures what one TTL sweep removed.
type RetentionStats struct {
	ValidationRecords int64 `json:"validationRecords"`
	DeadLetters       int64 `json:"deadLetters"`
	Screenshots       int64 `json:"screenshots"`
}

// CleanupExpiredData deletes aged validation records, dead letters, and
// screenshot blobs so the database and artifact directory do not grow
// without bound. The validation-record TTL has a 90 day floor; config
// validation enforces it.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) RetentionStats {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	var stats RetentionStats

	if days := cfg.Retention.ValidationRecordDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := st.DeleteValidationRecordsBefore(ctx, cutoff); err != nil {
			logger.Error("validation record cleanup failed", "error", err)
		} else if n > 0 {
			stats.ValidationRecords = n
			metrics.RecordRetention("validation_records", n)
		}
		// Screenshots age out with the records that reference them.
		stats.Screenshots = cleanupScreenshots(cfg.Render.ScreenshotDir, cutoff, logger)
	}

	if days := cfg.Retention.DeadLetterDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := st.DeleteDeadLettersBefore(ctx, cutoff); err != nil {
			logger.Error("dead letter cleanup failed", "error", err)
		} else if n > 0 {
			stats.DeadLetters = n
			metrics.RecordRetention("dead_letters", n)
		}
	}

	if stats.ValidationRecords > 0 || stats.DeadLetters > 0 || stats.Screenshots > 0 {
		logger.Info("retention sweep",
			"validation_records", stats.ValidationRecords,
			"dead_letters", stats.DeadLetters,
			"screenshots", stats.Screenshots)
	}
	return stats
}

// cleanupScreenshots removes blobs older than the cutoff.
func cleanupScreenshots(dir string, cutoff time.Time, logger *slog.Logger) int64 {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var removed int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".png" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			logger.Warn("screenshot cleanup failed", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.RecordRetention("screenshots", removed)
	}
	return removed
}
