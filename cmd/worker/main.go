package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scorelend/backend/internal/config"
	"github.com/scorelend/backend/internal/db"
	loandomain "github.com/scorelend/backend/internal/domain/loan"
	"github.com/scorelend/backend/internal/events"
	"github.com/scorelend/backend/internal/jobs"
	"github.com/scorelend/backend/internal/observability"
	postgresrepo "github.com/scorelend/backend/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "scorelend-worker")
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopicLoanSettled, "scorelend-worker", logger)
	defer publisher.Close()

	uow := postgresrepo.NewUnitOfWork(pool, cfg.LockTimeout)
	outboxRepo := postgresrepo.NewOutboxRepository(pool)
	worker := jobs.NewWorker(
		outboxRepo,
		loandomain.NewScheduler(uow, logger),
		loandomain.NewBonusEngine(uow, logger),
		publisher,
		jobs.WorkerOptions{
			MaxAttempts: cfg.WorkerMaxAttempts,
			ClaimLease:  cfg.WorkerClaimLease,
			Logger:      logger,
			Metrics:     metrics,
		},
	)
	runner := jobs.NewRunner(worker, outboxRepo, jobs.RunnerOptions{
		PollInterval: cfg.WorkerPollInterval,
		BatchSize:    cfg.WorkerBatchSize,
		Retention:    cfg.OutboxRetention,
		Logger:       logger,
		Metrics:      metrics,
	})

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(sigCtx); err != nil {
		logger.Error("worker failed", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}
