package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scorelend/backend/internal/domain/amortization"
	"github.com/scorelend/backend/internal/domain/errs"
)

const InstallmentPaidMessage = "Installment paid successfully."

type PayInput struct {
	LoanTransactionID string `json:"loan_transaction_id"`
}

type PayResult struct {
	Message string `json:"message"`
	Settled bool   `json:"settled"`
}

// SettlementEngine records installment payments. The caller must be the
// borrower; anyone else sees the transaction as missing.
type SettlementEngine struct {
	uow    UnitOfWork
	calc   *amortization.Calculator
	logger *slog.Logger
	now    func() time.Time
}

func NewSettlementEngine(uow UnitOfWork, calc *amortization.Calculator, logger *slog.Logger) *SettlementEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementEngine{
		uow:    uow,
		calc:   calc,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *SettlementEngine) Pay(ctx context.Context, actorID, loanTransactionID string) (*PayResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, errs.ErrUnauthorized
	}
	loanTransactionID = strings.TrimSpace(loanTransactionID)
	if loanTransactionID == "" {
		return nil, fmt.Errorf("loan_transaction_id required: %w", errs.ErrNotFound)
	}

	var settled bool
	var paidAmount int64
	err := e.uow.WithinTx(ctx, func(ctx context.Context, r Repos) error {
		tx, err := r.Transactions.GetForUpdate(ctx, loanTransactionID)
		if err != nil {
			return fmt.Errorf("lock loan transaction %s: %w", loanTransactionID, err)
		}
		inst, err := r.Installments.FindUnpaidForUpdate(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("unpaid installment for %s: %w", tx.ID, err)
		}
		if tx.BorrowerID != actorID || tx.Settled() {
			return fmt.Errorf("loan transaction %s: %w", tx.ID, errs.ErrNotFound)
		}

		now := e.now()
		if err := r.Installments.MarkPaid(ctx, inst.ID, now); err != nil {
			return fmt.Errorf("mark installment %s paid: %w", inst.ID, err)
		}

		total, err := e.calc.TotalOwed(tx.Product.Principal, tx.Product.NumberOfInstallments)
		if err != nil {
			return err
		}
		paidAmount = tx.PaidAmount + tx.Product.PerInstallmentAmount
		var endDate *time.Time
		if paidAmount >= total {
			endDate = &now
			settled = true
		}
		if err := r.Transactions.RecordPayment(ctx, tx.ID, paidAmount, endDate); err != nil {
			return fmt.Errorf("record payment on %s: %w", tx.ID, err)
		}

		if !settled {
			if err := enqueue(ctx, r.Outbox, TopicScheduleInstallment, ScheduleInstallmentPayload{LoanTransactionID: tx.ID}); err != nil {
				return err
			}
		}
		if err := enqueue(ctx, r.Outbox, TopicDistributeBonus, DistributeBonusPayload{InstallmentID: inst.ID}); err != nil {
			return err
		}
		if settled {
			return enqueue(ctx, r.Outbox, TopicLoanSettled, LoanSettledPayload{
				LoanTransactionID: tx.ID,
				BorrowerID:        tx.BorrowerID,
				GuarantorID:       tx.GuarantorID,
				LoanID:            tx.LoanID,
				PaidAmount:        paidAmount,
				SettledAt:         now,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			e.logger.Warn("installment payment rejected", "loan_transaction_id", loanTransactionID, "actor_id", actorID, "err", err)
		}
		return nil, err
	}

	e.logger.Info("installment paid",
		"loan_transaction_id", loanTransactionID,
		"paid_amount", paidAmount,
		"settled", settled,
	)
	return &PayResult{Message: InstallmentPaidMessage, Settled: settled}, nil
}
