package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prospector/internal/model"
)

// Validation stages, matching where in the pipeline the evidence came from.
const (
	StagePrescreen    = "prescreen"
	StageRenderVerify = "render_verify"
	StageSearchVerify = "search_verify"
)

// ValidationRecord is one evaluation run's full input and output, kept for
// reproducibility. Immutable after write.
type ValidationRecord struct {
	ID           uuid.UUID       `json:"id"`
	BusinessID   uuid.UUID       `json:"businessId"`
	URLEvaluated string          `json:"urlEvaluated"`
	Stage        string          `json:"stage"`
	Evidence     json.RawMessage `json:"evidence"`
	Verdict      model.Verdict   `json:"verdict"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// InsertValidationRecord writes one evaluation run.
func InsertValidationRecord(ctx context.Context, db DBTX, r *ValidationRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	verdict, err := json.Marshal(r.Verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	evidence := r.Evidence
	if len(evidence) == 0 {
		evidence = json.RawMessage(`{}`)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO validation_records (id, business_id, url_evaluated, stage, evidence, verdict)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.BusinessID, r.URLEvaluated, r.Stage, []byte(evidence), verdict)
	if err != nil {
		return fmt.Errorf("insert validation record: %w", err)
	}
	return nil
}

// ValidationRecordsByBusiness lists a business's runs oldest-first.
func (s *Store) ValidationRecordsByBusiness(ctx context.Context, businessID uuid.UUID) ([]ValidationRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, business_id, url_evaluated, stage, evidence, verdict, created_at
		FROM validation_records WHERE business_id = $1 ORDER BY created_at`, businessID)
	if err != nil {
		return nil, fmt.Errorf("records by business: %w", err)
	}
	defer rows.Close()

	var out []ValidationRecord
	for rows.Next() {
		var r ValidationRecord
		var evidence, verdict []byte
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.URLEvaluated, &r.Stage,
			&evidence, &verdict, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Evidence = evidence
		if err := json.Unmarshal(verdict, &r.Verdict); err != nil {
			return nil, fmt.Errorf("decode verdict for record %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteValidationRecordsBefore applies the retention cutoff.
func (s *Store) DeleteValidationRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM validation_records WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return res.RowsAffected()
}

// DeleteDeadLettersBefore prunes aged dead letters.
func (s *Store) DeleteDeadLettersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM work_dead_letter WHERE failed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired dead letters: %w", err)
	}
	return res.RowsAffected()
}
