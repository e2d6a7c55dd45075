// Package cache fronts read-heavy lookups with Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scorelend/backend/internal/domain/loan"
)

// NewRedisClient returns nil when addr is empty; callers treat that as
// caching disabled.
func NewRedisClient(ctx context.Context, addr string, logger *slog.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: time.Second,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, catalog cache will fall through", "addr", addr, "err", err)
	}
	return rdb
}

// CachedCatalog is a read-through cache over a loan.Catalog. Redis failures
// are logged and treated as misses, so the database stays the source of truth.
type CachedCatalog struct {
	source loan.Catalog
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedCatalog(source loan.Catalog, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCatalog{source: source, rdb: rdb, ttl: ttl, logger: logger}
}

func productKey(loanID string) string {
	return "catalog:product:" + loanID
}

func (c *CachedCatalog) Get(ctx context.Context, loanID string) (*loan.Product, error) {
	if c.rdb == nil {
		return c.source.Get(ctx, loanID)
	}

	key := productKey(loanID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p loan.Product
		if json.Unmarshal(raw, &p) == nil {
			return &p, nil
		}
		c.logger.Warn("discarding undecodable cached product", "loan_id", loanID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog cache read failed", "loan_id", loanID, "err", err)
	}

	p, err := c.source.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("catalog cache write failed", "loan_id", loanID, "err", err)
		}
	}
	return p, nil
}

// ProductRemover withdraws a product at the source of truth.
type ProductRemover interface {
	SoftDelete(ctx context.Context, loanID string) error
}

// Withdraw soft-deletes the product and drops its cached copy, so new
// applications stop seeing it immediately rather than after the TTL.
func (c *CachedCatalog) Withdraw(ctx context.Context, remover ProductRemover, loanID string) error {
	if err := remover.SoftDelete(ctx, loanID); err != nil {
		return err
	}
	if err := c.invalidate(ctx, loanID); err != nil {
		return fmt.Errorf("invalidate cached product %s: %w", loanID, err)
	}
	c.logger.Info("loan product withdrawn", "loan_id", loanID)
	return nil
}

func (c *CachedCatalog) invalidate(ctx context.Context, loanID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, productKey(loanID)).Err()
}
