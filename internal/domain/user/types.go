package user

import (
	"context"
	"time"
)

type Entity struct {
	ID        string
	Username  string
	Score     int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the transaction-scoped view of users the score ledger needs.
// Get and LockForUpdate return errs.ErrNotFound for missing or soft-deleted
// users; LockForUpdate returns errs.ErrLockTimeout when the row lock is not
// granted in time. Get takes no lock.
type Repository interface {
	Get(ctx context.Context, id string) (*Entity, error)
	LockForUpdate(ctx context.Context, id string) (*Entity, error)
	UpdateScore(ctx context.Context, id string, score int64) error
}
