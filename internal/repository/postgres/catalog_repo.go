package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scorelend/backend/internal/domain/loan"
)

// CatalogRepository reads and authors loan products.
type CatalogRepository struct {
	db Querier
}

func NewCatalogRepository(db Querier) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const productColumns = `id, name, principal, number_of_installments, required_score, award_score, per_installment_amount, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*loan.Product, error) {
	out := &loan.Product{}
	err := row.Scan(&out.ID, &out.Name, &out.Principal, &out.NumberOfInstallments,
		&out.RequiredScore, &out.AwardScore, &out.PerInstallmentAmount, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create stores p and fills in its ID and CreatedAt.
func (r *CatalogRepository) Create(ctx context.Context, p *loan.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	q := `
INSERT INTO loan_products (id, name, principal, number_of_installments, required_score, award_score, per_installment_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at
`
	err := r.db.QueryRow(ctx, q, p.ID, p.Name, p.Principal, p.NumberOfInstallments,
		p.RequiredScore, p.AwardScore, p.PerInstallmentAmount).Scan(&p.CreatedAt)
	return mapError(err, "create loan product")
}

// Get hides soft-deleted products.
func (r *CatalogRepository) Get(ctx context.Context, loanID string) (*loan.Product, error) {
	q := `SELECT ` + productColumns + ` FROM loan_products WHERE id = $1 AND deleted_at IS NULL`
	out, err := scanProduct(r.db.QueryRow(ctx, q, loanID))
	if err != nil {
		return nil, mapError(err, "get loan product "+loanID)
	}
	return out, nil
}

func (r *CatalogRepository) List(ctx context.Context) ([]loan.Product, error) {
	q := `SELECT ` + productColumns + ` FROM loan_products WHERE deleted_at IS NULL ORDER BY required_score, name`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, mapError(err, "list loan products")
	}
	defer rows.Close()

	out := make([]loan.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) SoftDelete(ctx context.Context, loanID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE loan_products SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, loanID)
	if err != nil {
		return mapError(err, "delete loan product "+loanID)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "delete loan product "+loanID)
	}
	return nil
}
