package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/scorelend/backend/internal/auth"
	"github.com/scorelend/backend/internal/cache"
	"github.com/scorelend/backend/internal/config"
	"github.com/scorelend/backend/internal/db"
	"github.com/scorelend/backend/internal/domain/amortization"
	loandomain "github.com/scorelend/backend/internal/domain/loan"
	"github.com/scorelend/backend/internal/observability"
	postgresrepo "github.com/scorelend/backend/internal/repository/postgres"
)

const usage = `usage: migrate <up|down|version|seed|withdraw LOAN_ID>

  up        apply pending migrations
  down      roll back every migration
  version   print the applied schema version
  seed      create demo users and a loan product, print access tokens
  withdraw  remove a loan product from the catalog and the cache`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)

	var err error
	switch flag.Arg(0) {
	case "up":
		err = db.MigrateUp(cfg.DatabaseURL)
	case "down":
		err = db.MigrateDown(cfg.DatabaseURL)
	case "version":
		var v uint
		var dirty bool
		v, dirty, err = db.MigrationVersion(cfg.DatabaseURL)
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", v, dirty)
		}
	case "seed":
		err = seed(cfg)
	case "withdraw":
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = withdraw(cfg, logger, flag.Arg(1))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", flag.Arg(0), "err", err)
		os.Exit(1)
	}
	logger.Info("migrate finished", "command", flag.Arg(0))
}

func seed(cfg config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "scorelend-migrate")
	if err != nil {
		return err
	}
	defer pool.Close()

	product, err := loandomain.NewProduct(amortization.NewCalculator(cfg.AnnualRate), "starter", 1000, 10, 50, 20)
	if err != nil {
		return err
	}
	if err := postgresrepo.NewCatalogRepository(pool).Create(ctx, product); err != nil {
		return err
	}
	fmt.Printf("loan_id=%s per_installment=%d\n", product.ID, product.PerInstallmentAmount)

	users := postgresrepo.NewUserRepository(pool)
	jwt := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey)
	for _, u := range []struct {
		name  string
		score int64
	}{{"alice", 100}, {"bob", 30}, {"carol", 10}} {
		created, err := users.Create(ctx, u.name, u.score)
		if err != nil {
			return err
		}
		tok, err := jwt.Mint(created.ID, auth.TokenTypeAccess, 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("user=%s id=%s score=%d token=%s\n", created.Username, created.ID, created.Score, tok)
	}
	return nil
}

func withdraw(cfg config.Config, logger *slog.Logger, loanID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "scorelend-migrate")
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := postgresrepo.NewCatalogRepository(pool)
	cached := cache.NewCachedCatalog(repo, nil, cfg.CatalogCacheTTL, logger)
	if rdb := cache.NewRedisClient(ctx, cfg.RedisAddr, logger); rdb != nil {
		defer rdb.Close()
		cached = cache.NewCachedCatalog(repo, rdb, cfg.CatalogCacheTTL, logger)
	}
	return cached.Withdraw(ctx, repo, loanID)
}
