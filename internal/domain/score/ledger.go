package score

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/user"
)

type Reason string

const (
	ReasonLoanPledge       Reason = "loan_pledge"
	ReasonGuarantorPledge  Reason = "guarantor_pledge"
	ReasonInstallmentBonus Reason = "installment_bonus"
	ReasonGuarantorBonus   Reason = "guarantor_bonus"
)

type Entry struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Delta       int64     `json:"delta"`
	ScoreAfter  int64     `json:"score_after"`
	Reason      Reason    `json:"reason"`
	ReferenceID string    `json:"reference_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type HistoryRepository interface {
	Append(ctx context.Context, e Entry) error
}

// Ledger is the only writer of user scores. A Ledger is bound to one database
// transaction: row locks it takes are held until that transaction ends, and the
// rows it has locked are remembered so repeated changes compound.
type Ledger struct {
	users   user.Repository
	history HistoryRepository
	now     func() time.Time
	locked  map[string]*user.Entity
}

func NewLedger(users user.Repository, history HistoryRepository) *Ledger {
	return &Ledger{
		users:   users,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
		locked:  map[string]*user.Entity{},
	}
}

// Lock takes the row locks for ids in ascending order, skipping blanks and
// duplicates. Users that do not exist are left out of the result; any other
// failure (including a lock timeout) aborts.
func (l *Ledger) Lock(ctx context.Context, ids ...string) (map[string]*user.Entity, error) {
	ordered := LockOrder(ids...)
	out := make(map[string]*user.Entity, len(ordered))
	for _, id := range ordered {
		u, err := l.lock(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = u
	}
	return out, nil
}

// ChangeScore applies delta to the user's score under the row lock and records
// the change. It returns the new score.
func (l *Ledger) ChangeScore(ctx context.Context, userID string, delta int64, reason Reason, referenceID string) (int64, error) {
	u, err := l.lock(ctx, userID)
	if err != nil {
		return 0, err
	}

	newScore := u.Score + delta
	if err := l.users.UpdateScore(ctx, u.ID, newScore); err != nil {
		return 0, fmt.Errorf("update score for user %s: %w", u.ID, err)
	}
	u.Score = newScore
	u.Version++

	if err := l.history.Append(ctx, Entry{
		UserID:      u.ID,
		Delta:       delta,
		ScoreAfter:  newScore,
		Reason:      reason,
		ReferenceID: referenceID,
		CreatedAt:   l.now(),
	}); err != nil {
		return 0, fmt.Errorf("append score entry for user %s: %w", u.ID, err)
	}
	return newScore, nil
}

func (l *Ledger) lock(ctx context.Context, id string) (*user.Entity, error) {
	if u, ok := l.locked[id]; ok {
		return u, nil
	}
	u, err := l.users.LockForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", id, err)
	}
	l.locked[id] = u
	return u, nil
}

// LockOrder is the global order in which user rows are locked.
func LockOrder(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
