package loan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/score"
	"github.com/scorelend/backend/internal/domain/user"
)

const ApplicationSubmittedMessage = "Your loan application has been successfully submitted."

var guarantorShare = decimal.NewFromFloat(0.10)

type ApplyInput struct {
	LoanID      string `json:"loan_id"`
	GuarantorID string `json:"guarantor_id"`
}

type ApplyResult struct {
	Message           string `json:"message"`
	LoanTransactionID string `json:"loan_transaction_id"`
}

// Pledge is how much score each party puts up for a loan.
type Pledge struct {
	FromBorrower  int64
	FromGuarantor int64
	// GuarantorID is empty when the borrower covers the requirement alone.
	GuarantorID string
}

// GuarantorContribution is round(requiredScore * 0.1).
func GuarantorContribution(requiredScore int64) int64 {
	return decimal.NewFromInt(requiredScore).Mul(guarantorShare).Round(0).IntPart()
}

// PlanPledge decides who pledges what. A borrower with enough score pledges the
// full requirement and any guarantor is ignored. Otherwise the guarantor must
// exist, differ from the borrower, and cover 10% of the requirement while the
// borrower covers the remaining 90%. Scores have no floor, so the borrower may
// end up negative.
func PlanPledge(requiredScore int64, borrower *user.Entity, guarantor *user.Entity) (Pledge, error) {
	if borrower.Score >= requiredScore {
		return Pledge{FromBorrower: requiredScore}, nil
	}
	if guarantor == nil || guarantor.ID == borrower.ID {
		return Pledge{}, fmt.Errorf("borrower %s below required score %d: %w", borrower.ID, requiredScore, errs.ErrInsufficientScore)
	}

	fromGuarantor := GuarantorContribution(requiredScore)
	fromBorrower := requiredScore - fromGuarantor
	if guarantor.Score < fromGuarantor {
		return Pledge{}, fmt.Errorf("guarantor %s below contribution %d: %w", guarantor.ID, fromGuarantor, errs.ErrInsufficientScore)
	}
	return Pledge{FromBorrower: fromBorrower, FromGuarantor: fromGuarantor, GuarantorID: guarantor.ID}, nil
}

// ApplicationEngine opens loan transactions. The first installment is created
// asynchronously by the outbox worker after commit.
type ApplicationEngine struct {
	uow     UnitOfWork
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
}

func NewApplicationEngine(uow UnitOfWork, catalog Catalog, logger *slog.Logger) *ApplicationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicationEngine{
		uow:     uow,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *ApplicationEngine) Apply(ctx context.Context, borrowerID string, in ApplyInput) (*ApplyResult, error) {
	borrowerID = strings.TrimSpace(borrowerID)
	if borrowerID == "" {
		return nil, errs.ErrUnauthorized
	}
	loanID := strings.TrimSpace(in.LoanID)
	if loanID == "" {
		return nil, fmt.Errorf("loan_id required: %w", errs.ErrNotFound)
	}
	guarantorID := strings.TrimSpace(in.GuarantorID)

	product, err := e.catalog.Get(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}

	var created *Transaction
	var pledge Pledge
	err = e.uow.WithinTx(ctx, func(ctx context.Context, r Repos) error {
		ledger := score.NewLedger(r.Users, r.ScoreHistory)
		borrower, guarantor, err := lockParties(ctx, r.Users, ledger, borrowerID, guarantorID, product.RequiredScore)
		if err != nil {
			return err
		}

		pledge, err = PlanPledge(product.RequiredScore, borrower, guarantor)
		if err != nil {
			return err
		}

		created, err = r.Transactions.Create(ctx, CreateTransactionInput{
			BorrowerID:  borrowerID,
			GuarantorID: pledge.GuarantorID,
			LoanID:      product.ID,
			StartDate:   e.now(),
		})
		if err != nil {
			return fmt.Errorf("create loan transaction: %w", err)
		}

		if _, err := ledger.ChangeScore(ctx, borrowerID, -pledge.FromBorrower, score.ReasonLoanPledge, created.ID); err != nil {
			return err
		}
		if pledge.GuarantorID != "" {
			if _, err := ledger.ChangeScore(ctx, pledge.GuarantorID, -pledge.FromGuarantor, score.ReasonGuarantorPledge, created.ID); err != nil {
				return err
			}
		}

		return enqueue(ctx, r.Outbox, TopicScheduleInstallment, ScheduleInstallmentPayload{LoanTransactionID: created.ID})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("loan application accepted",
		"loan_transaction_id", created.ID,
		"borrower_id", borrowerID,
		"guarantor_id", pledge.GuarantorID,
		"loan_id", product.ID,
		"pledged", pledge.FromBorrower+pledge.FromGuarantor,
	)
	return &ApplyResult{Message: ApplicationSubmittedMessage, LoanTransactionID: created.ID}, nil
}

// lockParties locks the borrower, and the guarantor only when the borrower's
// locked score falls short. Locks are taken in score.LockOrder. A guarantor
// that sorts before the borrower has to be locked first, so the decision for
// that case comes from an unlocked read; if the locked row no longer agrees the
// call fails with errs.ErrLockTimeout and the caller retries.
func lockParties(ctx context.Context, users user.Repository, ledger *score.Ledger, borrowerID, guarantorID string, requiredScore int64) (*user.Entity, *user.Entity, error) {
	withGuarantor := guarantorID != "" && guarantorID != borrowerID

	ids := []string{borrowerID}
	if withGuarantor && guarantorID < borrowerID {
		current, err := users.Get(ctx, borrowerID)
		if err != nil {
			return nil, nil, fmt.Errorf("borrower %s: %w", borrowerID, err)
		}
		if current.Score < requiredScore {
			ids = append(ids, guarantorID)
		}
	}

	locked, err := ledger.Lock(ctx, ids...)
	if err != nil {
		return nil, nil, err
	}
	borrower, ok := locked[borrowerID]
	if !ok {
		return nil, nil, fmt.Errorf("borrower %s: %w", borrowerID, errs.ErrNotFound)
	}
	if !withGuarantor || borrower.Score >= requiredScore {
		return borrower, nil, nil
	}

	if len(ids) == 1 {
		if guarantorID < borrowerID {
			return nil, nil, fmt.Errorf("borrower %s score changed before lock: %w", borrowerID, errs.ErrLockTimeout)
		}
		if locked, err = ledger.Lock(ctx, guarantorID); err != nil {
			return nil, nil, err
		}
	}
	guarantor, ok := locked[guarantorID]
	if !ok {
		return nil, nil, fmt.Errorf("guarantor %s: %w", guarantorID, errs.ErrNotFound)
	}
	return borrower, guarantor, nil
}
