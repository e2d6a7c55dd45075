package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scorelend/backend/internal/observability"
)

type OutboxMaintenance interface {
	PurgeDone(ctx context.Context, cutoff time.Time) (int64, error)
	Backlog(ctx context.Context) (map[string]int64, error)
}

type RunnerOptions struct {
	PollInterval time.Duration
	BatchSize    int32
	Retention    time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Runner schedules the worker poll, the backlog gauge and the purge of old
// done rows. A poll that finds a full batch keeps draining until the batch
// comes back short.
type Runner struct {
	worker      *Worker
	maintenance OutboxMaintenance
	opts        RunnerOptions
	cron        *cron.Cron
	mu          sync.Mutex
}

func NewRunner(worker *Worker, maintenance OutboxMaintenance, opts RunnerOptions) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		worker:      worker,
		maintenance: maintenance,
		opts:        opts,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Run blocks until ctx is done, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.opts.PollInterval), func() { r.Drain(ctx) }); err != nil {
		return fmt.Errorf("schedule outbox poll: %w", err)
	}
	if _, err := r.cron.AddFunc("@every 1m", func() { r.ReportBacklog(ctx) }); err != nil {
		return fmt.Errorf("schedule backlog report: %w", err)
	}
	if _, err := r.cron.AddFunc("@hourly", func() { r.Purge(ctx) }); err != nil {
		return fmt.Errorf("schedule outbox purge: %w", err)
	}

	r.opts.Logger.Info("outbox runner started", "poll_interval", r.opts.PollInterval, "batch_size", r.opts.BatchSize)
	r.cron.Start()
	r.Drain(ctx)

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.opts.Logger.Info("outbox runner stopped")
	return nil
}

func (r *Runner) Drain(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ctx.Err() == nil {
		n, err := r.worker.RunOnce(ctx, r.opts.BatchSize)
		if err != nil {
			r.opts.Logger.Error("outbox worker run failed", "err", err)
			return
		}
		if n < int(r.opts.BatchSize) {
			return
		}
	}
}

func (r *Runner) Purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.opts.Retention)
	n, err := r.maintenance.PurgeDone(ctx, cutoff)
	if err != nil {
		r.opts.Logger.Error("outbox purge failed", "err", err)
		return
	}
	if n > 0 {
		r.opts.Logger.Info("outbox purged", "deleted", n, "cutoff", cutoff)
	}
}

func (r *Runner) ReportBacklog(ctx context.Context) {
	backlog, err := r.maintenance.Backlog(ctx)
	if err != nil {
		r.opts.Logger.Warn("outbox backlog query failed", "err", err)
		return
	}
	r.opts.Metrics.SetBacklog(backlog)
}
