package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scorelend/backend/internal/domain/loan"
)

type TransactionRepository struct {
	db Querier
}

func NewTransactionRepository(db Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// The product join ignores deleted_at: a contract keeps its terms after the
// catalog entry is withdrawn.
const transactionSelect = `
SELECT t.id, t.borrower_id, COALESCE(t.guarantor_id, ''), t.loan_id, t.start_date, t.end_date, t.paid_amount,
       p.id, p.name, p.principal, p.number_of_installments, p.required_score, p.award_score,
       p.per_installment_amount, p.created_at
FROM loan_transactions t
JOIN loan_products p ON p.id = t.loan_id
`

func scanTransaction(row interface{ Scan(...any) error }) (*loan.Transaction, error) {
	out := &loan.Transaction{}
	p := &out.Product
	err := row.Scan(
		&out.ID, &out.BorrowerID, &out.GuarantorID, &out.LoanID, &out.StartDate, &out.EndDate, &out.PaidAmount,
		&p.ID, &p.Name, &p.Principal, &p.NumberOfInstallments, &p.RequiredScore, &p.AwardScore,
		&p.PerInstallmentAmount, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *TransactionRepository) Create(ctx context.Context, in loan.CreateTransactionInput) (*loan.Transaction, error) {
	id := uuid.NewString()
	q := `
INSERT INTO loan_transactions (id, borrower_id, guarantor_id, loan_id, start_date)
VALUES ($1,$2,$3,$4,$5)
`
	if _, err := r.db.Exec(ctx, q, id, in.BorrowerID, nullIfEmpty(in.GuarantorID), in.LoanID, in.StartDate); err != nil {
		return nil, mapError(err, "create loan transaction")
	}
	return r.Get(ctx, id)
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*loan.Transaction, error) {
	out, err := scanTransaction(r.db.QueryRow(ctx, transactionSelect+`WHERE t.id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get loan transaction "+id)
	}
	return out, nil
}

func (r *TransactionRepository) GetForUpdate(ctx context.Context, id string) (*loan.Transaction, error) {
	out, err := scanTransaction(r.db.QueryRow(ctx, transactionSelect+`WHERE t.id = $1 FOR UPDATE OF t`, id))
	if err != nil {
		return nil, mapError(err, "lock loan transaction "+id)
	}
	return out, nil
}

func (r *TransactionRepository) RecordPayment(ctx context.Context, id string, paidAmount int64, endDate *time.Time) error {
	q := `
UPDATE loan_transactions
SET paid_amount = $2, end_date = COALESCE(end_date, $3), updated_at = now()
WHERE id = $1 AND paid_amount <= $2
`
	tag, err := r.db.Exec(ctx, q, id, paidAmount, endDate)
	if err != nil {
		return mapError(err, "record payment "+id)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "record payment "+id)
	}
	return nil
}

// ListByBorrower returns newest first.
func (r *TransactionRepository) ListByBorrower(ctx context.Context, borrowerID string, limit, offset int32) ([]loan.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, transactionSelect+`WHERE t.borrower_id = $1 ORDER BY t.start_date DESC, t.id LIMIT $2 OFFSET $3`,
		borrowerID, limit, offset)
	if err != nil {
		return nil, mapError(err, "list loan transactions")
	}
	defer rows.Close()

	out := make([]loan.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}
