package loan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scorelend/backend/internal/domain/amortization"
	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/score"
	"github.com/scorelend/backend/internal/domain/user"
)

const (
	TopicScheduleInstallment = "schedule_installment"
	TopicDistributeBonus     = "distribute_bonus"
	TopicLoanSettled         = "loan_settled"
)

// Product is a catalog entry. The core never mutates it.
type Product struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Principal            int64     `json:"principal"`
	NumberOfInstallments int       `json:"number_of_installments"`
	RequiredScore        int64     `json:"required_score"`
	AwardScore           int64     `json:"award_score"`
	PerInstallmentAmount int64     `json:"per_installment_amount"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewProduct validates the catalog fields and derives PerInstallmentAmount.
func NewProduct(calc *amortization.Calculator, name string, principal int64, installments int, requiredScore, awardScore int64) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || principal <= 0 || requiredScore < 0 || awardScore < 0 {
		return nil, fmt.Errorf("invalid_product: %w", errs.ErrInvalidInput)
	}
	per, err := calc.PerInstallmentAmount(principal, installments)
	if err != nil {
		return nil, err
	}
	return &Product{
		Name:                 name,
		Principal:            principal,
		NumberOfInstallments: installments,
		RequiredScore:        requiredScore,
		AwardScore:           awardScore,
		PerInstallmentAmount: per,
	}, nil
}

// Transaction is a borrower's contract against a Product. Reads populate
// Product from the catalog row even if that row has since been soft-deleted.
type Transaction struct {
	ID          string     `json:"id"`
	BorrowerID  string     `json:"borrower_id"`
	GuarantorID string     `json:"guarantor_id,omitempty"`
	LoanID      string     `json:"loan_id"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	PaidAmount  int64      `json:"paid_amount"`
	Product     Product    `json:"product"`
}

func (t *Transaction) Settled() bool {
	return t.EndDate != nil
}

func (t *Transaction) HasGuarantor() bool {
	return t.GuarantorID != ""
}

type Installment struct {
	ID                string     `json:"id"`
	LoanTransactionID string     `json:"loan_transaction_id"`
	DueDate           time.Time  `json:"due_date"`
	PaymentDate       *time.Time `json:"payment_date,omitempty"`
	Paid              bool       `json:"paid"`
	BonusAppliedAt    *time.Time `json:"bonus_applied_at,omitempty"`
}

type CreateTransactionInput struct {
	BorrowerID  string
	GuarantorID string
	LoanID      string
	StartDate   time.Time
}

type CreateInstallmentInput struct {
	LoanTransactionID string
	DueDate           time.Time
}

// Catalog returns errs.ErrNotFound for missing or soft-deleted products.
type Catalog interface {
	Get(ctx context.Context, loanID string) (*Product, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, in CreateTransactionInput) (*Transaction, error)
	Get(ctx context.Context, id string) (*Transaction, error)
	GetForUpdate(ctx context.Context, id string) (*Transaction, error)
	RecordPayment(ctx context.Context, id string, paidAmount int64, endDate *time.Time) error
}

type InstallmentRepository interface {
	Create(ctx context.Context, in CreateInstallmentInput) (*Installment, error)
	GetForUpdate(ctx context.Context, id string) (*Installment, error)
	// FindUnpaidForUpdate returns errs.ErrNotFound when no unpaid installment exists.
	FindUnpaidForUpdate(ctx context.Context, loanTransactionID string) (*Installment, error)
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
	MarkBonusApplied(ctx context.Context, id string, at time.Time) error
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, topic string, payload []byte) error
}

// Repos are bound to one database transaction.
type Repos struct {
	Users        user.Repository
	ScoreHistory score.HistoryRepository
	Transactions TransactionRepository
	Installments InstallmentRepository
	Outbox       OutboxRepository
}

// UnitOfWork runs fn in a single ACID transaction, rolling back if fn fails.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

type ScheduleInstallmentPayload struct {
	LoanTransactionID string `json:"loan_transaction_id"`
}

type DistributeBonusPayload struct {
	InstallmentID string `json:"installment_id"`
}

type LoanSettledPayload struct {
	LoanTransactionID string    `json:"loan_transaction_id"`
	BorrowerID        string    `json:"borrower_id"`
	GuarantorID       string    `json:"guarantor_id,omitempty"`
	LoanID            string    `json:"loan_id"`
	PaidAmount        int64     `json:"paid_amount"`
	SettledAt         time.Time `json:"settled_at"`
}

func enqueue(ctx context.Context, outbox OutboxRepository, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	if err := outbox.Enqueue(ctx, topic, raw); err != nil {
		return fmt.Errorf("enqueue %s: %w", topic, err)
	}
	return nil
}
