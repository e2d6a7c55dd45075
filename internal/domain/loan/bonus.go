package loan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scorelend/backend/internal/domain/score"
)

var (
	onePercent    = decimal.NewFromFloat(0.01)
	borrowerShare = decimal.NewFromFloat(0.9)
)

const day = 24 * time.Hour

// DaysBetween counts whole elapsed days from due to paid, truncated toward
// zero. It is negative when paid is before due.
func DaysBetween(due, paid time.Time) int64 {
	return int64(paid.Sub(due) / day)
}

// PunctualityFactor is 1 - 0.01*daysLate, floored at zero. Early payments
// (negative daysLate) raise the factor without an upper bound.
func PunctualityFactor(daysLate int64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(onePercent.Mul(decimal.NewFromInt(daysLate)))
	if factor.IsNegative() {
		return decimal.Zero
	}
	return factor
}

// CalculateBonus is the score awarded for one paid installment. An unpaid
// installment is treated as paid on its due date.
func CalculateBonus(p Product, dueDate time.Time, paymentDate *time.Time) int64 {
	if p.NumberOfInstallments <= 0 {
		return 0
	}
	base := p.AwardScore / int64(p.NumberOfInstallments)

	var days int64
	if paymentDate != nil {
		days = DaysBetween(dueDate, *paymentDate)
	}
	final := decimal.NewFromInt(base).Mul(PunctualityFactor(days)).Round(0).IntPart()
	if final < 0 {
		return 0
	}
	return final
}

// SplitBonus gives the borrower round(final*0.9) and the guarantor the rest.
func SplitBonus(final int64, hasGuarantor bool) (borrower, guarantor int64) {
	if !hasGuarantor {
		return final, 0
	}
	borrower = decimal.NewFromInt(final).Mul(borrowerShare).Round(0).IntPart()
	return borrower, final - borrower
}

type Distribution struct {
	InstallmentID  string
	FinalBonus     int64
	BorrowerShare  int64
	GuarantorShare int64
	// Skipped is set when the installment is unpaid or was already rewarded.
	Skipped bool
}

// BonusEngine rewards paid installments exactly once per installment.
type BonusEngine struct {
	uow    UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

func NewBonusEngine(uow UnitOfWork, logger *slog.Logger) *BonusEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &BonusEngine{
		uow:    uow,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b *BonusEngine) Distribute(ctx context.Context, installmentID string) (*Distribution, error) {
	out := &Distribution{InstallmentID: installmentID}
	err := b.uow.WithinTx(ctx, func(ctx context.Context, r Repos) error {
		inst, err := r.Installments.GetForUpdate(ctx, installmentID)
		if err != nil {
			return fmt.Errorf("lock installment %s: %w", installmentID, err)
		}
		if !inst.Paid || inst.BonusAppliedAt != nil {
			out.Skipped = true
			return nil
		}

		tx, err := r.Transactions.Get(ctx, inst.LoanTransactionID)
		if err != nil {
			return fmt.Errorf("load loan transaction %s: %w", inst.LoanTransactionID, err)
		}

		out.FinalBonus = CalculateBonus(tx.Product, inst.DueDate, inst.PaymentDate)
		out.BorrowerShare, out.GuarantorShare = SplitBonus(out.FinalBonus, tx.HasGuarantor())

		// A user deleted since the loan opened forfeits their share; the
		// other party is still paid.
		ledger := score.NewLedger(r.Users, r.ScoreHistory)
		locked, err := ledger.Lock(ctx, tx.BorrowerID, tx.GuarantorID)
		if err != nil {
			return err
		}
		if _, ok := locked[tx.BorrowerID]; !ok && out.BorrowerShare != 0 {
			b.logger.Warn("borrower gone, bonus share dropped", "installment_id", inst.ID, "borrower_id", tx.BorrowerID)
			out.BorrowerShare = 0
		}
		if _, ok := locked[tx.GuarantorID]; !ok && out.GuarantorShare != 0 {
			b.logger.Warn("guarantor gone, bonus share dropped", "installment_id", inst.ID, "guarantor_id", tx.GuarantorID)
			out.GuarantorShare = 0
		}
		if out.BorrowerShare != 0 {
			if _, err := ledger.ChangeScore(ctx, tx.BorrowerID, out.BorrowerShare, score.ReasonInstallmentBonus, inst.ID); err != nil {
				return err
			}
		}
		if out.GuarantorShare != 0 {
			if _, err := ledger.ChangeScore(ctx, tx.GuarantorID, out.GuarantorShare, score.ReasonGuarantorBonus, inst.ID); err != nil {
				return err
			}
		}

		if err := r.Installments.MarkBonusApplied(ctx, inst.ID, b.now()); err != nil {
			return fmt.Errorf("mark bonus applied on %s: %w", inst.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Skipped {
		b.logger.Debug("installment bonus skipped", "installment_id", installmentID)
		return out, nil
	}
	b.logger.Info("installment bonus distributed",
		"installment_id", installmentID,
		"final_bonus", out.FinalBonus,
		"borrower_share", out.BorrowerShare,
		"guarantor_share", out.GuarantorShare,
	)
	return out, nil
}
