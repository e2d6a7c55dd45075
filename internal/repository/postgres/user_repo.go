package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/user"
)

type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, score, version, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*user.Entity, error) {
	out := &user.Entity{}
	if err := row.Scan(&out.ID, &out.Username, &out.Score, &out.Version, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UserRepository) Create(ctx context.Context, username string, score int64) (*user.Entity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errs.ErrInvalidInput
	}
	q := `INSERT INTO users (id, username, score) VALUES ($1, $2, $3) RETURNING ` + userColumns
	out, err := scanUser(r.db.QueryRow(ctx, q, uuid.NewString(), username, score))
	if err != nil {
		return nil, mapError(err, "create user")
	}
	return out, nil
}

func (r *UserRepository) Get(ctx context.Context, id string) (*user.Entity, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	out, err := scanUser(r.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapError(err, "get user "+id)
	}
	return out, nil
}

// LockForUpdate must run inside a transaction; the row lock is released at commit.
func (r *UserRepository) LockForUpdate(ctx context.Context, id string) (*user.Entity, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	out, err := scanUser(r.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapError(err, "lock user "+id)
	}
	return out, nil
}

func (r *UserRepository) UpdateScore(ctx context.Context, id string, score int64) error {
	q := `UPDATE users SET score = $2, version = version + 1, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, score)
	if err != nil {
		return mapError(err, "update score "+id)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "update score "+id)
	}
	return nil
}
