package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/scorelend/backend/internal/jobs"
)

type OutboxRepository struct {
	db Querier
}

func NewOutboxRepository(db Querier) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, topic string, payload []byte) error {
	q := `INSERT INTO outbox_jobs (topic, payload, status) VALUES ($1, $2::jsonb, 'pending')`
	_, err := r.db.Exec(ctx, q, topic, payload)
	return mapError(err, "enqueue "+topic)
}

// ClaimPending moves up to limit due jobs to processing and bumps their
// attempt count. Jobs stuck in processing longer than lease are claimed again.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int32, lease time.Duration) ([]jobs.OutboxJob, error) {
	q := `
WITH claimable AS (
  SELECT id FROM outbox_jobs
  WHERE (status = 'pending' AND available_at <= now())
     OR (status = 'processing' AND updated_at <= now() - make_interval(secs => $2))
  ORDER BY id
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
UPDATE outbox_jobs o
SET status = 'processing', attempts = o.attempts + 1, updated_at = now()
FROM claimable
WHERE o.id = claimable.id
RETURNING o.id, o.topic, o.payload, o.status, o.attempts, COALESCE(o.last_error, ''), o.available_at
`
	rows, err := r.db.Query(ctx, q, limit, lease.Seconds())
	if err != nil {
		return nil, mapError(err, "claim outbox jobs")
	}
	defer rows.Close()

	out := make([]jobs.OutboxJob, 0, limit)
	for rows.Next() {
		var j jobs.OutboxJob
		if err := rows.Scan(&j.ID, &j.Topic, &j.Payload, &j.Status, &j.Attempts, &j.LastError, &j.AvailableAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (r *OutboxRepository) MarkDone(ctx context.Context, jobID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox_jobs SET status = 'done', last_error = NULL, updated_at = now() WHERE id = $1`, jobID)
	return mapError(err, "mark outbox job done")
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error {
	q := `UPDATE outbox_jobs SET status = 'pending', available_at = $2, last_error = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, q, jobID, nextAvailableAt, lastError)
	return mapError(err, "mark outbox job retry")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, jobID int64, lastError string) error {
	q := `UPDATE outbox_jobs SET status = 'failed', last_error = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, q, jobID, lastError)
	return mapError(err, "mark outbox job failed")
}

// PurgeDone deletes done jobs last touched before cutoff.
func (r *OutboxRepository) PurgeDone(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM outbox_jobs WHERE status = 'done' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, mapError(err, "purge outbox jobs")
	}
	return tag.RowsAffected(), nil
}

// Backlog counts jobs by status for the metrics gauge.
func (r *OutboxRepository) Backlog(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM outbox_jobs GROUP BY status`)
	if err != nil {
		return nil, mapError(err, "outbox backlog")
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
