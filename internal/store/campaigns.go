package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"prospector/internal/model"
)

const campaignColumns = `id, country, region, city, category, mode, status,
	planner_mode, plan, requested_at, completed_at, cancelled_at`

// CreateCampaign inserts a new campaign row.
func CreateCampaign(ctx context.Context, db DBTX, c *model.Campaign) error {
	plan := pqtype.NullRawMessage{RawMessage: c.Plan, Valid: len(c.Plan) > 0}
	_, err := db.ExecContext(ctx, `
		INSERT INTO campaigns (id, country, region, city, category, mode, status, planner_mode, plan, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Country, c.Region, c.City, c.Category,
		string(c.Mode), string(c.Status), string(c.PlannerMode), plan, c.RequestedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetCampaign fetches one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// ListCampaigns returns campaigns newest-first.
func (s *Store) ListCampaigns(ctx context.Context, limit int) ([]model.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY requested_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// FindActiveDuplicate looks for an active campaign over the same geography
// and category requested after the given cutoff. Used for the one-hour
// duplicate rejection at submission.
func (s *Store) FindActiveDuplicate(ctx context.Context, country, region, city, category string, since time.Time) (*model.Campaign, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE country = $1 AND region = $2 AND city = $3 AND category = $4
		  AND status = 'active' AND requested_at >= $5
		ORDER BY requested_at DESC LIMIT 1`,
		country, region, city, category, since.UTC())
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// CancelCampaign marks a campaign cancelled. In-flight work observes the
// status and short-circuits; nothing is forcefully stopped.
func (s *Store) CancelCampaign(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'active'`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteCampaignIfDone flips an active campaign to completed when every
// zone is terminal. Returns whether the flip happened.
func CompleteCampaignIfDone(ctx context.Context, db DBTX, id uuid.UUID, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'active'
		  AND NOT EXISTS (
			SELECT 1 FROM zones
			WHERE campaign_id = $1 AND status IN ('pending', 'scraping')
		  )`, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var mode, status, plannerMode string
	var plan pqtype.NullRawMessage
	var completedAt, cancelledAt sql.NullTime

	err := row.Scan(&c.ID, &c.Country, &c.Region, &c.City, &c.Category,
		&mode, &status, &plannerMode, &plan, &c.RequestedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	c.Mode = model.CampaignMode(mode)
	c.Status = model.CampaignStatus(status)
	c.PlannerMode = model.PlannerMode(plannerMode)
	if plan.Valid {
		c.Plan = plan.RawMessage
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		c.CancelledAt = &t
	}
	return &c, nil
}
