package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prospector/internal/model"
)

const zoneColumns = `id, campaign_id, slug, center_lat, center_lon, radius_km,
	priority, status, last_attempt_at, attempt_count, error_message,
	raw_count, saved_count, with_website_count, without_website_count,
	queued_for_generation_count`

// CreateZones inserts a campaign's planned zones. The (campaign_id, slug)
// unique constraint guards against double planning.
func CreateZones(ctx context.Context, db DBTX, zones []model.Zone) error {
	for i := range zones {
		z := &zones[i]
		_, err := db.ExecContext(ctx, `
			INSERT INTO zones (id, campaign_id, slug, center_lat, center_lon, radius_km, priority, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			z.ID, z.CampaignID, z.Slug, z.CenterLat, z.CenterLon, z.RadiusKm,
			z.Priority, string(z.Status))
		if err != nil {
			return fmt.Errorf("insert zone %s: %w", z.Slug, err)
		}
	}
	return nil
}

// GetZone fetches one zone.
func (s *Store) GetZone(ctx context.Context, id uuid.UUID) (*model.Zone, error) {
	return getZone(ctx, s.DB, id, "")
}

// GetZoneForUpdate locks the zone row for the duration of the transaction.
// The scrape worker takes this lock before mutating status or counts.
func GetZoneForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Zone, error) {
	return getZone(ctx, tx, id, " FOR UPDATE")
}

func getZone(ctx context.Context, db DBTX, id uuid.UUID, suffix string) (*model.Zone, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+zoneColumns+` FROM zones WHERE id = $1`+suffix, id)
	return scanZone(row)
}

// ZonesByCampaign lists a campaign's zones, highest priority first.
func (s *Store) ZonesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]model.Zone, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+zoneColumns+` FROM zones WHERE campaign_id = $1 ORDER BY priority DESC, slug`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("zones by campaign: %w", err)
	}
	defer rows.Close()

	var out []model.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *z)
	}
	return out, rows.Err()
}

// MarkZoneScraping records an attempt start: status, timestamp, counter.
func MarkZoneScraping(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE zones SET status = 'scraping', last_attempt_at = $2, attempt_count = attempt_count + 1
		WHERE id = $1`, id, at.UTC())
	return err
}

// FinishZone records a terminal attempt outcome and the result counts.
func FinishZone(ctx context.Context, db DBTX, z *model.Zone) error {
	var errMsg sql.NullString
	if z.ErrorMessage != "" {
		errMsg = sql.NullString{String: z.ErrorMessage, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		UPDATE zones SET status = $2, error_message = $3,
		       raw_count = $4, saved_count = $5, with_website_count = $6,
		       without_website_count = $7
		WHERE id = $1`,
		z.ID, string(z.Status), errMsg,
		z.RawCount, z.SavedCount, z.WithWebsiteCount, z.WithoutWebsiteCount)
	return err
}

// ResetZoneForRetry moves a failed zone back to pending for another scrape
// attempt. The caller checks the attempt budget.
func ResetZoneForRetry(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.ExecContext(ctx, `
		UPDATE zones SET status = 'pending' WHERE id = $1 AND status = 'failed'`, id)
	return err
}

// MarkZoneSkipped short-circuits a zone whose campaign was cancelled.
func MarkZoneSkipped(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.ExecContext(ctx, `
		UPDATE zones SET status = 'skipped' WHERE id = $1 AND status IN ('pending', 'scraping')`, id)
	return err
}

// IncrementZoneGenerationCount bumps the queued-for-generation counter when
// the submitter hands a business off.
func IncrementZoneGenerationCount(ctx context.Context, db DBTX, zoneID uuid.UUID) error {
	_, err := db.ExecContext(ctx, `
		UPDATE zones SET queued_for_generation_count = queued_for_generation_count + 1
		WHERE id = $1`, zoneID)
	return err
}

// ZoneAggregates sums a campaign's result counts and statuses for the
// progress report.
type ZoneAggregates struct {
	ByStatus            map[model.ZoneStatus]int `json:"byStatus"`
	RawCount            int                      `json:"rawCount"`
	SavedCount          int                      `json:"savedCount"`
	WithWebsiteCount    int                      `json:"withWebsiteCount"`
	WithoutWebsiteCount int                      `json:"withoutWebsiteCount"`
	QueuedForGeneration int                      `json:"queuedForGeneration"`
	AvgAttempts         float64                  `json:"avgAttempts"`
}

// AggregateZones computes the campaign progress rollup in one pass.
func (s *Store) AggregateZones(ctx context.Context, campaignID uuid.UUID) (*ZoneAggregates, error) {
	agg := &ZoneAggregates{ByStatus: make(map[model.ZoneStatus]int)}

	row := s.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(raw_count), 0), COALESCE(SUM(saved_count), 0),
		       COALESCE(SUM(with_website_count), 0), COALESCE(SUM(without_website_count), 0),
		       COALESCE(SUM(queued_for_generation_count), 0), COALESCE(AVG(attempt_count), 0)
		FROM zones WHERE campaign_id = $1`, campaignID)
	if err := row.Scan(&agg.RawCount, &agg.SavedCount, &agg.WithWebsiteCount,
		&agg.WithoutWebsiteCount, &agg.QueuedForGeneration, &agg.AvgAttempts); err != nil {
		return nil, fmt.Errorf("aggregate zones: %w", err)
	}

	statusRows, err := s.DB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM zones WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("zone statuses: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var n int
		if err := statusRows.Scan(&status, &n); err != nil {
			return nil, err
		}
		agg.ByStatus[model.ZoneStatus(status)] = n
	}
	return agg, statusRows.Err()
}

func scanZone(row rowScanner) (*model.Zone, error) {
	var z model.Zone
	var status string
	var lastAttempt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(&z.ID, &z.CampaignID, &z.Slug, &z.CenterLat, &z.CenterLon,
		&z.RadiusKm, &z.Priority, &status, &lastAttempt, &z.AttemptCount, &errMsg,
		&z.RawCount, &z.SavedCount, &z.WithWebsiteCount, &z.WithoutWebsiteCount,
		&z.QueuedForGenerationCount)
	if err != nil {
		return nil, err
	}
	z.Status = model.ZoneStatus(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		z.LastAttemptAt = &t
	}
	z.ErrorMessage = errMsg.String
	return &z, nil
}
