package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scorelend/backend/internal/domain/errs"
)

// Scheduler creates the next installment of an open transaction. Running it
// twice for the same transaction is a no-op the second time.
type Scheduler struct {
	uow    UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(uow UnitOfWork, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		uow:    uow,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleNext returns the created installment, or nil when the transaction is
// settled or already has an unpaid installment.
func (s *Scheduler) ScheduleNext(ctx context.Context, loanTransactionID string) (*Installment, error) {
	var created *Installment
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r Repos) error {
		tx, err := r.Transactions.GetForUpdate(ctx, loanTransactionID)
		if err != nil {
			return fmt.Errorf("lock loan transaction %s: %w", loanTransactionID, err)
		}
		if tx.Settled() {
			return nil
		}

		_, err = r.Installments.FindUnpaidForUpdate(ctx, tx.ID)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, errs.ErrNotFound):
			return fmt.Errorf("unpaid installment for %s: %w", tx.ID, err)
		}

		created, err = r.Installments.Create(ctx, CreateInstallmentInput{
			LoanTransactionID: tx.ID,
			DueDate:           s.now().AddDate(0, 1, 0),
		})
		if err != nil {
			return fmt.Errorf("create installment for %s: %w", tx.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created == nil {
		s.logger.Debug("installment scheduling skipped", "loan_transaction_id", loanTransactionID)
		return nil, nil
	}
	s.logger.Info("installment scheduled",
		"loan_transaction_id", loanTransactionID,
		"installment_id", created.ID,
		"due_date", created.DueDate,
	)
	return created, nil
}
