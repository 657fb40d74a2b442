package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prospector/internal/model"
)

const businessColumns = `id, external_listing_id, name, category, address, city,
	region, country, phone, latitude, longitude, rating, review_count,
	website_url, website_validation_status, website_metadata, raw_snapshots,
	quality_score, archived,
	discovery_queued_at, discovery_completed_at,
	generation_queued_at, generation_completed_at, generation_token,
	zone_id, campaign_id, created_at, updated_at`

// UpsertBusiness inserts a newly scraped business or, when the external
// listing id is already known, refreshes the listing fields in place and
// appends the raw snapshot. The disposition state and metadata of an
// existing row are never touched by a re-scrape. Returns whether a new row
// was created.
func UpsertBusiness(ctx context.Context, db DBTX, b *model.Business) (bool, error) {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	snapshots, err := json.Marshal(b.RawSnapshots)
	if err != nil {
		return false, fmt.Errorf("marshal snapshots: %w", err)
	}
	var website sql.NullString
	if b.WebsiteURL != nil {
		website = sql.NullString{String: *b.WebsiteURL, Valid: true}
	}

	// raw_snapshots on conflict: append this scrape's payload, keep history.
	row := db.QueryRowContext(ctx, `
		INSERT INTO businesses (id, external_listing_id, name, category, address, city,
			region, country, phone, latitude, longitude, rating, review_count,
			website_url, website_validation_status, website_metadata, raw_snapshots,
			zone_id, campaign_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $20)
		ON CONFLICT (external_listing_id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			country = EXCLUDED.country,
			phone = EXCLUDED.phone,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			raw_snapshots = businesses.raw_snapshots || EXCLUDED.raw_snapshots,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`,
		b.ID, b.ExternalListingID, b.Name, b.Category, b.Address, b.City,
		b.Region, b.Country, b.Phone, b.Latitude, b.Longitude, b.Rating, b.ReviewCount,
		website, string(b.Status), metadata, snapshots,
		b.ZoneID, b.CampaignID, time.Now().UTC())

	var inserted bool
	if err := row.Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert business %s: %w", b.ExternalListingID, err)
	}
	return inserted, nil
}

// GetBusiness fetches one business.
func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*model.Business, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
	return scanBusiness(row)
}

// GetBusinessForUpdate locks the business row. This row lock is the
// per-business serialization primitive: at most one pipeline stage mutates
// a business at a time.
func GetBusinessForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Business, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = $1 FOR UPDATE`, id)
	return scanBusiness(row)
}

// ListBusinesses pages through a campaign's businesses, optionally filtered
// by disposition state.
func (s *Store) ListBusinesses(ctx context.Context, campaignID uuid.UUID, state model.WebsiteStatus, limit, offset int) ([]model.Business, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE campaign_id = $1`
	args := []any{campaignID}
	if state != "" {
		query += ` AND website_validation_status = $2`
		args = append(args, string(state))
	}
	query += fmt.Sprintf(` ORDER BY created_at LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CountBusinessesByState rolls up a campaign's live disposition states.
func (s *Store) CountBusinessesByState(ctx context.Context, campaignID uuid.UUID) (map[model.WebsiteStatus]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT website_validation_status, COUNT(*) FROM businesses
		WHERE campaign_id = $1 GROUP BY website_validation_status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	out := make(map[model.WebsiteStatus]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[model.WebsiteStatus(state)] = n
	}
	return out, rows.Err()
}

// UpdateDisposition writes the mutable disposition surface of a business:
// state, candidate URL, metadata, quality score, and the discovery
// timestamps. Listing fields are owned by the scrape path and left alone.
func UpdateDisposition(ctx context.Context, db DBTX, b *model.Business) error {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var website sql.NullString
	if b.WebsiteURL != nil {
		website = sql.NullString{String: *b.WebsiteURL, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		UPDATE businesses SET
			website_url = $2,
			website_validation_status = $3,
			website_metadata = $4,
			quality_score = $5,
			discovery_queued_at = $6,
			discovery_completed_at = $7,
			updated_at = $8
		WHERE id = $1`,
		b.ID, website, string(b.Status), metadata, b.QualityScore,
		b.DiscoveryQueuedAt, b.DiscoveryCompletedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update disposition %s: %w", b.ID, err)
	}
	return nil
}

// MarkGenerationQueued stores the generator accept token and timestamp.
func MarkGenerationQueued(ctx context.Context, db DBTX, id uuid.UUID, token string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE businesses SET generation_queued_at = $2, generation_token = $3, updated_at = $2
		WHERE id = $1 AND generation_queued_at IS NULL`, id, at.UTC(), token)
	return err
}

// MarkGenerationCompleted records the generator's completion callback.
func (s *Store) MarkGenerationCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE businesses SET generation_completed_at = $2, updated_at = $2
		WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark generation completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveBusiness soft-retires a business. Rows are never hard-deleted.
func (s *Store) ArchiveBusiness(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE businesses SET archived = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	return err
}

func scanBusiness(row rowScanner) (*model.Business, error) {
	var b model.Business
	var status, generationToken string
	var website sql.NullString
	var metadata, snapshots []byte
	var lat, lon, rating sql.NullFloat64
	var reviewCount, quality sql.NullInt64
	var discQueued, discDone, genQueued, genDone sql.NullTime

	err := row.Scan(&b.ID, &b.ExternalListingID, &b.Name, &b.Category, &b.Address,
		&b.City, &b.Region, &b.Country, &b.Phone, &lat, &lon, &rating, &reviewCount,
		&website, &status, &metadata, &snapshots, &quality, &b.Archived,
		&discQueued, &discDone, &genQueued, &genDone, &generationToken,
		&b.ZoneID, &b.CampaignID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	b.Status = model.WebsiteStatus(status)
	b.GenerationToken = generationToken
	if website.Valid {
		u := website.String
		b.WebsiteURL = &u
	}
	if lat.Valid {
		v := lat.Float64
		b.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		b.Longitude = &v
	}
	if rating.Valid {
		v := rating.Float64
		b.Rating = &v
	}
	if reviewCount.Valid {
		v := int(reviewCount.Int64)
		b.ReviewCount = &v
	}
	if quality.Valid {
		v := int(quality.Int64)
		b.QualityScore = &v
	}
	for _, pair := range []struct {
		src sql.NullTime
		dst **time.Time
	}{
		{discQueued, &b.DiscoveryQueuedAt},
		{discDone, &b.DiscoveryCompletedAt},
		{genQueued, &b.GenerationQueuedAt},
		{genDone, &b.GenerationCompletedAt},
	} {
		if pair.src.Valid {
			t := pair.src.Time
			*pair.dst = &t
		}
	}

	if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", b.ID, err)
	}
	if err := json.Unmarshal(snapshots, &b.RawSnapshots); err != nil {
		return nil, fmt.Errorf("decode snapshots for %s: %w", b.ID, err)
	}
	return &b, nil
}
