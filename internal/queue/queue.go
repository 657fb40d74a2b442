// Package queue is the durable work store: a Postgres-backed priority FIFO
// with visibility timeouts, idempotent enqueue, and a dead-letter pile.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names one work-item family. Each kind has its own worker pool.
type Kind string

const (
	KindScrapeZone       Kind = "scrape_zone"
	KindValidateBusiness Kind = "validate_business"
	KindDiscoverWebsite  Kind = "discover_website"
	KindSubmitGeneration Kind = "submit_generation"
)

// DefaultMaxAttempts per kind. Discovery burns a search plus an LLM call per
// attempt, so it gets one fewer.
func DefaultMaxAttempts(k Kind) int {
	switch k {
	case KindDiscoverWebsite:
		return 2
	default:
		return 3
	}
}

// DBTX is satisfied by *sql.DB and *sql.Tx. Enqueue and Complete accept it
// so a state transition and its follow-up item commit atomically.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Item is an enqueue request.
type Item struct {
	Kind        Kind
	Payload     any
	Priority    int
	NotBefore   time.Time
	DedupKey    string
	MaxAttempts int
}

// WorkItem is a leased row.
type WorkItem struct {
	ID            uuid.UUID
	Kind          Kind
	Payload       json.RawMessage
	DedupKey      string
	Priority      int
	NotBefore     time.Time
	Attempts      int
	MaxAttempts   int
	LockedBy      string
	LockExpiresAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// DeadLetter is a permanently failed item.
type DeadLetter struct {
	ID          uuid.UUID       `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	DedupKey    string          `json:"dedupKey,omitempty"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError"`
	CreatedAt   time.Time       `json:"createdAt"`
	FailedAt    time.Time       `json:"failedAt"`
}

// KindStats is the per-kind depth snapshot reported by Stats.
type KindStats struct {
	Total  int `json:"total"`
	Ready  int `json:"ready"`
	Leased int `json:"leased"`
}

// Stats is the queue depth report.
type Stats struct {
	Kinds       map[Kind]KindStats `json:"kinds"`
	DeadLetters int                `json:"deadLetters"`
}

// Queue wraps the work_items tables. All methods hit the shared pool; the
// package-level Enqueue and Complete take a DBTX for transactional callers.
type Queue struct {
	db      *sql.DB
	backoff Backoff
}

func New(db *sql.DB, backoff Backoff) *Queue {
	return &Queue{db: db, backoff: backoff}
}

// Enqueue inserts one work item and returns its id. With a dedup key, a
// second enqueue while the prior item is unfinished is a no-op: the partial
// unique index makes the conflict, and the caller gets the in-flight item's
// id back. uuid.Nil with a nil error means the conflicting item finished
// between the insert and the lookup.
func Enqueue(ctx context.Context, db DBTX, it Item) (uuid.UUID, error) {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}
	if it.Priority == 0 {
		it.Priority = 5
	}
	if it.NotBefore.IsZero() {
		it.NotBefore = time.Now().UTC()
	}
	if it.MaxAttempts == 0 {
		it.MaxAttempts = DefaultMaxAttempts(it.Kind)
	}

	var dedup sql.NullString
	if it.DedupKey != "" {
		dedup = sql.NullString{String: it.DedupKey, Valid: true}
	}

	id := uuid.New()
	row := db.QueryRowContext(ctx, `
		INSERT INTO work_items (id, kind, payload, dedup_key, priority, scheduled_not_before, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING
		RETURNING id`,
		id, string(it.Kind), payload, dedup, it.Priority, it.NotBefore.UTC(), it.MaxAttempts)
	err = row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", it.Kind, err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT id FROM work_items WHERE kind = $1 AND dedup_key = $2`,
		string(it.Kind), it.DedupKey).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", it.Kind, err)
	}
	return id, nil
}

// Enqueue on the shared pool.
func (q *Queue) Enqueue(ctx context.Context, it Item) (uuid.UUID, error) {
	return Enqueue(ctx, q.db, it)
}

// Lease atomically claims the highest-priority due item among the given
// kinds. SKIP LOCKED keeps concurrent workers from colliding; the row stays
// invisible to other leases until lock_expires_at passes.
func (q *Queue) Lease(ctx context.Context, kinds []Kind, leaseFor time.Duration, workerID string) (*WorkItem, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}
	now := time.Now().UTC()

	row := q.db.QueryRowContext(ctx, `
		UPDATE work_items SET locked_by = $1, lock_expires_at = $2
		WHERE id = (
			SELECT id FROM work_items
			WHERE kind = ANY($3)
			  AND scheduled_not_before <= $4
			  AND (locked_by IS NULL OR lock_expires_at < $4)
			ORDER BY priority DESC, scheduled_not_before ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, kind, payload, dedup_key, priority, scheduled_not_before,
		          attempts, max_attempts, locked_by, lock_expires_at, last_error, created_at`,
		workerID, now.Add(leaseFor), kindStrs, now)

	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	return item, nil
}

// ExtendLease pushes out the visibility timeout for a long-running handler.
// It only touches rows the caller still holds.
func (q *Queue) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, leaseFor time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE work_items SET lock_expires_at = $1
		WHERE id = $2 AND locked_by = $3`,
		time.Now().UTC().Add(leaseFor), id, workerID)
	return err
}

// Complete removes a finished item. Zero rows affected is not an error:
// handlers that complete inside their own transaction leave nothing behind.
func Complete(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM work_items WHERE id = $1`, id)
	return err
}

func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	return Complete(ctx, q.db, id)
}

// Fail records one failed attempt. Retryable failures below the attempt cap
// are rescheduled with backoff; everything else moves to the dead letter
// table in one transaction.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryable bool) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE work_items SET attempts = attempts + 1, last_error = $2,
		       locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1
		RETURNING attempts, max_attempts`, id, errMsg)

	var attempts, maxAttempts int
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("fail scan: %w", err)
	}

	if ShouldRetry(retryable, attempts, maxAttempts) {
		delay := q.backoff.Delay(attempts)
		_, err = tx.ExecContext(ctx, `
			UPDATE work_items SET scheduled_not_before = $2 WHERE id = $1`,
			id, time.Now().UTC().Add(delay))
		if err != nil {
			return fmt.Errorf("fail reschedule: %w", err)
		}
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_dead_letter (id, kind, payload, dedup_key, priority, attempts, max_attempts, last_error, created_at)
		SELECT id, kind, payload, dedup_key, priority, attempts, max_attempts, last_error, created_at
		FROM work_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("fail dead-letter: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("fail delete: %w", err)
	}
	return tx.Commit()
}

// ReapExpired clears lapsed locks so items from crashed workers become
// leasable again. Runs on the worker runner's tick.
func (q *Queue) ReapExpired(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE work_items SET locked_by = NULL, lock_expires_at = NULL
		WHERE locked_by IS NOT NULL AND lock_expires_at < $1`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reap: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports depth per kind plus the dead-letter count.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	out := Stats{Kinds: make(map[Kind]KindStats)}
	now := time.Now().UTC()

	rows, err := q.db.QueryContext(ctx, `
		SELECT kind,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE scheduled_not_before <= $1 AND (locked_by IS NULL OR lock_expires_at < $1)),
		       COUNT(*) FILTER (WHERE locked_by IS NOT NULL AND lock_expires_at >= $1)
		FROM work_items GROUP BY kind`, now)
	if err != nil {
		return out, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var ks KindStats
		if err := rows.Scan(&kind, &ks.Total, &ks.Ready, &ks.Leased); err != nil {
			return out, err
		}
		out.Kinds[Kind(kind)] = ks
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_dead_letter`).Scan(&out.DeadLetters); err != nil {
		return out, err
	}
	return out, nil
}

// PendingForBusiness reports whether any unfinished item references the
// business, via the dedup keys the pipeline uses for per-business items.
func (q *Queue) PendingForBusiness(ctx context.Context, businessID uuid.UUID) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items
		WHERE dedup_key IN ($1, $2, $3)`,
		ValidateDedupKey(businessID), DiscoverDedupKey(businessID), SubmitDedupKey(businessID)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Dedup keys for per-business single-item-in-flight ordering.

func ValidateDedupKey(businessID uuid.UUID) string { return "validate:" + businessID.String() }
func DiscoverDedupKey(businessID uuid.UUID) string { return "discover:" + businessID.String() }
func SubmitDedupKey(businessID uuid.UUID) string   { return "submit:" + businessID.String() }
func ScrapeDedupKey(zoneID uuid.UUID) string       { return "scrape:" + zoneID.String() }

func scanWorkItem(row *sql.Row) (*WorkItem, error) {
	var it WorkItem
	var kind string
	var dedup, lockedBy, lastErr sql.NullString
	var lockExpires sql.NullTime
	err := row.Scan(&it.ID, &kind, &it.Payload, &dedup, &it.Priority, &it.NotBefore,
		&it.Attempts, &it.MaxAttempts, &lockedBy, &lockExpires, &lastErr, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	it.Kind = Kind(kind)
	it.DedupKey = dedup.String
	it.LockedBy = lockedBy.String
	if lockExpires.Valid {
		it.LockExpiresAt = lockExpires.Time
	}
	it.LastError = lastErr.String
	return &it, nil
}
