package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scorelend/backend/internal/domain/errs"
	"github.com/scorelend/backend/internal/domain/loan"
	"github.com/scorelend/backend/internal/observability"
)

type OutboxJob struct {
	ID          int64
	Topic       string
	Payload     []byte
	Status      string
	Attempts    int32
	LastError   string
	AvailableAt time.Time
}

type OutboxRepository interface {
	ClaimPending(ctx context.Context, limit int32, lease time.Duration) ([]OutboxJob, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID int64, lastError string) error
}

type InstallmentScheduler interface {
	ScheduleNext(ctx context.Context, loanTransactionID string) (*loan.Installment, error)
}

type BonusDistributor interface {
	Distribute(ctx context.Context, installmentID string) (*loan.Distribution, error)
}

// Publisher forwards integration events to other systems.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

type WorkerOptions struct {
	MaxAttempts int32
	ClaimLease  time.Duration
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Worker drains outbox_jobs. Delivery is at-least-once, so every handler it
// calls must tolerate running twice for the same job.
type Worker struct {
	outboxRepo   OutboxRepository
	scheduler    InstallmentScheduler
	bonus        BonusDistributor
	publisher    Publisher
	maxAttempts  int32
	claimLease   time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	retryBackoff func(attempt int32) time.Duration
}

func NewWorker(outboxRepo OutboxRepository, scheduler InstallmentScheduler, bonus BonusDistributor, publisher Publisher, opts WorkerOptions) *Worker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		outboxRepo:  outboxRepo,
		scheduler:   scheduler,
		bonus:       bonus,
		publisher:   publisher,
		maxAttempts: opts.MaxAttempts,
		claimLease:  opts.ClaimLease,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		retryBackoff: func(attempt int32) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt*15) * time.Second
		},
	}
}

// RunOnce claims one batch and processes it in id order. It returns the number
// of jobs claimed.
func (w *Worker) RunOnce(ctx context.Context, batchSize int32) (int, error) {
	jobs, err := w.outboxRepo.ClaimPending(ctx, batchSize, w.claimLease)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			return len(jobs), err
		}
	}

	return len(jobs), nil
}

func (w *Worker) processJob(ctx context.Context, job OutboxJob) error {
	var err error
	switch job.Topic {
	case loan.TopicScheduleInstallment:
		err = w.processScheduleInstallment(ctx, job)
	case loan.TopicDistributeBonus:
		err = w.processDistributeBonus(ctx, job)
	case loan.TopicLoanSettled:
		err = w.processLoanSettled(ctx, job)
	default:
		err = errors.New("unsupported_topic")
	}
	if err != nil {
		return w.handleJobError(ctx, job, err)
	}
	w.metrics.ObserveJob(job.Topic, "done")
	return w.outboxRepo.MarkDone(ctx, job.ID)
}

func (w *Worker) processScheduleInstallment(ctx context.Context, job OutboxJob) error {
	var payload loan.ScheduleInstallmentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return terminal(errors.New("invalid_payload"))
	}
	if payload.LoanTransactionID == "" {
		return terminal(errors.New("missing_loan_transaction_id"))
	}
	_, err := w.scheduler.ScheduleNext(ctx, payload.LoanTransactionID)
	return err
}

func (w *Worker) processDistributeBonus(ctx context.Context, job OutboxJob) error {
	var payload loan.DistributeBonusPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return terminal(errors.New("invalid_payload"))
	}
	if payload.InstallmentID == "" {
		return terminal(errors.New("missing_installment_id"))
	}
	_, err := w.bonus.Distribute(ctx, payload.InstallmentID)
	return err
}

func (w *Worker) processLoanSettled(ctx context.Context, job OutboxJob) error {
	var payload loan.LoanSettledPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return terminal(errors.New("invalid_payload"))
	}
	if payload.LoanTransactionID == "" {
		return terminal(errors.New("missing_loan_transaction_id"))
	}
	return w.publisher.Publish(ctx, payload.LoanTransactionID, job.Payload)
}

type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

func terminal(err error) error { return terminalError{err: err} }

// handleJobError retries with linear backoff. Malformed jobs and references to
// rows that no longer exist fail at once since retrying cannot help.
func (w *Worker) handleJobError(ctx context.Context, job OutboxJob, err error) error {
	msg := err.Error()
	var te terminalError
	if errors.As(err, &te) || errors.Is(err, errs.ErrNotFound) || job.Attempts >= w.maxAttempts {
		w.logger.Error("outbox job failed", "job_id", job.ID, "topic", job.Topic, "attempts", job.Attempts, "err", msg)
		w.metrics.ObserveJob(job.Topic, "failed")
		if markErr := w.outboxRepo.MarkFailed(ctx, job.ID, msg); markErr != nil {
			return fmt.Errorf("mark job %d failed: %w", job.ID, markErr)
		}
		return nil
	}

	next := w.now().Add(w.retryBackoff(job.Attempts))
	w.logger.Warn("outbox job will retry", "job_id", job.ID, "topic", job.Topic, "attempts", job.Attempts, "next", next, "err", msg)
	w.metrics.ObserveJob(job.Topic, "retry")
	if markErr := w.outboxRepo.MarkRetry(ctx, job.ID, next, msg); markErr != nil {
		return fmt.Errorf("mark job %d retry: %w", job.ID, markErr)
	}
	return nil
}
