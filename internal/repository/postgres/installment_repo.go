package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scorelend/backend/internal/domain/loan"
)

type InstallmentRepository struct {
	db Querier
}

func NewInstallmentRepository(db Querier) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

const installmentColumns = `id, loan_transaction_id, due_date, payment_date, paid, bonus_applied_at`

func scanInstallment(row interface{ Scan(...any) error }) (*loan.Installment, error) {
	out := &loan.Installment{}
	if err := row.Scan(&out.ID, &out.LoanTransactionID, &out.DueDate, &out.PaymentDate, &out.Paid, &out.BonusAppliedAt); err != nil {
		return nil, err
	}
	return out, nil
}

// Create fails with errs.ErrAlreadyExists if the transaction already has an
// unpaid installment.
func (r *InstallmentRepository) Create(ctx context.Context, in loan.CreateInstallmentInput) (*loan.Installment, error) {
	q := `
INSERT INTO installments (id, loan_transaction_id, due_date)
VALUES ($1,$2,$3)
RETURNING ` + installmentColumns
	out, err := scanInstallment(r.db.QueryRow(ctx, q, uuid.NewString(), in.LoanTransactionID, in.DueDate))
	if err != nil {
		return nil, mapError(err, "create installment")
	}
	return out, nil
}

func (r *InstallmentRepository) GetForUpdate(ctx context.Context, id string) (*loan.Installment, error) {
	q := `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1 FOR UPDATE`
	out, err := scanInstallment(r.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapError(err, "lock installment "+id)
	}
	return out, nil
}

func (r *InstallmentRepository) FindUnpaidForUpdate(ctx context.Context, loanTransactionID string) (*loan.Installment, error) {
	q := `
SELECT ` + installmentColumns + `
FROM installments
WHERE loan_transaction_id = $1 AND NOT paid
ORDER BY due_date
LIMIT 1
FOR UPDATE`
	out, err := scanInstallment(r.db.QueryRow(ctx, q, loanTransactionID))
	if err != nil {
		return nil, mapError(err, "unpaid installment for "+loanTransactionID)
	}
	return out, nil
}

func (r *InstallmentRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE installments SET paid = TRUE, payment_date = $2 WHERE id = $1 AND NOT paid`, id, paidAt)
	if err != nil {
		return mapError(err, "mark installment paid "+id)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "mark installment paid "+id)
	}
	return nil
}

func (r *InstallmentRepository) MarkBonusApplied(ctx context.Context, id string, at time.Time) error {
	q := `UPDATE installments SET bonus_applied_at = $2 WHERE id = $1 AND paid AND bonus_applied_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, at)
	if err != nil {
		return mapError(err, "mark bonus applied "+id)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "mark bonus applied "+id)
	}
	return nil
}

func (r *InstallmentRepository) ListByTransaction(ctx context.Context, loanTransactionID string) ([]loan.Installment, error) {
	q := `SELECT ` + installmentColumns + ` FROM installments WHERE loan_transaction_id = $1 ORDER BY due_date`
	rows, err := r.db.Query(ctx, q, loanTransactionID)
	if err != nil {
		return nil, mapError(err, "list installments")
	}
	defer rows.Close()

	out := make([]loan.Installment, 0)
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}
