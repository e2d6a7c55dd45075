package postgres

import (
	"context"

	"github.com/scorelend/backend/internal/domain/score"
)

// ScoreHistoryRepository stores the append-only score ledger.
type ScoreHistoryRepository struct {
	db Querier
}

func NewScoreHistoryRepository(db Querier) *ScoreHistoryRepository {
	return &ScoreHistoryRepository{db: db}
}

const scoreEntryColumns = `id, user_id, delta, score_after, reason, reference_id, created_at`

func (r *ScoreHistoryRepository) Append(ctx context.Context, e score.Entry) error {
	q := `
INSERT INTO score_entries (user_id, delta, score_after, reason, reference_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.Exec(ctx, q, e.UserID, e.Delta, e.ScoreAfter, string(e.Reason), e.ReferenceID, e.CreatedAt)
	return mapError(err, "append score entry")
}

// ListByUser pages backwards from beforeID; zero starts at the newest entry.
func (r *ScoreHistoryRepository) ListByUser(ctx context.Context, userID string, beforeID int64, limit int32) ([]score.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `
SELECT ` + scoreEntryColumns + `
FROM score_entries
WHERE user_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
ORDER BY id DESC
LIMIT $3`
	return r.list(ctx, q, userID, beforeID, limit)
}

// ListSince feeds the realtime notifier in commit order.
func (r *ScoreHistoryRepository) ListSince(ctx context.Context, lastID int64, limit int32) ([]score.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + scoreEntryColumns + ` FROM score_entries WHERE id > $1 ORDER BY id ASC LIMIT $2`
	return r.list(ctx, q, lastID, limit)
}

func (r *ScoreHistoryRepository) LatestID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM score_entries`).Scan(&id)
	return id, mapError(err, "latest score entry")
}

func (r *ScoreHistoryRepository) list(ctx context.Context, q string, args ...any) ([]score.Entry, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "list score entries")
	}
	defer rows.Close()

	out := make([]score.Entry, 0)
	for rows.Next() {
		var e score.Entry
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.ScoreAfter, &reason, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = score.Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}
