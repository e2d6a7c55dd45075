package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorelend/backend/internal/domain/loan"
)

// UnitOfWork runs each call in its own transaction with a bounded lock wait.
type UnitOfWork struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewUnitOfWork(pool *pgxpool.Pool, lockTimeout time.Duration) *UnitOfWork {
	return &UnitOfWork{pool: pool, lockTimeout: lockTimeout}
}

func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, r loan.Repos) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if u.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", u.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(ctx, ReposFor(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit tx")
	}
	return nil
}

// ReposFor binds every repository to q.
func ReposFor(q Querier) loan.Repos {
	return loan.Repos{
		Users:        NewUserRepository(q),
		ScoreHistory: NewScoreHistoryRepository(q),
		Transactions: NewTransactionRepository(q),
		Installments: NewInstallmentRepository(q),
		Outbox:       NewOutboxRepository(q),
	}
}
