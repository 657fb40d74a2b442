package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListDeadLetters returns recent dead letters, newest failure first.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, payload, dedup_key, priority, attempts, max_attempts, last_error, created_at, failed_at
		FROM work_dead_letter ORDER BY failed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var kind string
		var dedup sql.NullString
		if err := rows.Scan(&d.ID, &kind, &d.Payload, &dedup, &d.Priority,
			&d.Attempts, &d.MaxAttempts, &d.LastError, &d.CreatedAt, &d.FailedAt); err != nil {
			return nil, err
		}
		d.Kind = Kind(kind)
		d.DedupKey = dedup.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// RetryDeadLetter moves a dead letter back into the live queue with its
// attempt counter reset. Returns sql.ErrNoRows for an unknown id.
func (q *Queue) RetryDeadLetter(ctx context.Context, id uuid.UUID) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retry begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO work_items (id, kind, payload, dedup_key, priority, scheduled_not_before, attempts, max_attempts)
		SELECT id, kind, payload, dedup_key, priority, $2, 0, max_attempts
		FROM work_dead_letter WHERE id = $1
		ON CONFLICT (kind, dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("retry insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the id is unknown or an equivalent item is already queued;
		// distinguish for the caller.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM work_dead_letter WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return sql.ErrNoRows
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_dead_letter WHERE id = $1`, id); err != nil {
		return fmt.Errorf("retry delete: %w", err)
	}
	return tx.Commit()
}

// DeleteDeadLetter discards a dead letter permanently.
func (q *Queue) DeleteDeadLetter(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM work_dead_letter WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
