package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scorelend/backend/internal/auth"
	"github.com/scorelend/backend/internal/cache"
	"github.com/scorelend/backend/internal/config"
	"github.com/scorelend/backend/internal/db"
	"github.com/scorelend/backend/internal/domain/amortization"
	loandomain "github.com/scorelend/backend/internal/domain/loan"
	"github.com/scorelend/backend/internal/http/handlers"
	"github.com/scorelend/backend/internal/observability"
	postgresrepo "github.com/scorelend/backend/internal/repository/postgres"
	"github.com/scorelend/backend/internal/server"
	"github.com/scorelend/backend/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "scorelend-api")
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := cache.NewRedisClient(ctx, cfg.RedisAddr, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	catalogRepo := postgresrepo.NewCatalogRepository(pool)
	var catalog loandomain.Catalog = catalogRepo
	if rdb != nil {
		catalog = cache.NewCachedCatalog(catalog, rdb, cfg.CatalogCacheTTL, logger)
	}

	calc := amortization.NewCalculator(cfg.AnnualRate)
	uow := postgresrepo.NewUnitOfWork(pool, cfg.LockTimeout)
	scoreHistory := postgresrepo.NewScoreHistoryRepository(pool)

	opsHandler := handlers.NewOperationsHandler(
		loandomain.NewApplicationEngine(uow, catalog, logger),
		loandomain.NewSettlementEngine(uow, calc, logger),
		logger,
		metrics,
	)
	historyHandler := handlers.NewHistoryHandler(postgresrepo.NewTransactionRepository(pool), scoreHistory, logger)

	hub := ws.NewHub(metrics)
	notifier := ws.NewNotifier(scoreHistory, hub, cfg.WSPollInterval, logger)

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Pinger:            pool,
		Outbox:            postgresrepo.NewOutboxRepository(pool),
		CatalogHandler:    handlers.NewCatalogHandler(catalogRepo, logger),
		OperationsHandler: opsHandler,
		HistoryHandler:    historyHandler,
		WSHandler:         ws.NewHandler(hub),
		JWTManager:        auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey),
		Metrics:           metrics,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notifier.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("score notifier stopped", "err", err)
		}
	}()

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}
