package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"despesas/internal/cache"
	"despesas/internal/core"

	"golang.org/x/sync/singleflight"
)

// CachedAnalytics memoizes the dashboard reads of an Analytics. Concurrent
// misses for the same key share one computation. Keys carry the store
// revision, so a write by any process sharing the store is seen on the next
// read; ledger events additionally purge everything cached so far.
type CachedAnalytics struct {
	*Analytics

	summaries *cache.LRUCache[core.MonthSummary]
	budgets   *cache.LRUCache[[]core.BudgetStatus]
	months    *cache.LRUCache[core.Month]
	group     singleflight.Group

	// generation is part of every key so a computation that started before
	// an invalidation can never be read after it.
	generation atomic.Uint64
}

func NewCachedAnalytics(a *Analytics, size int, ttl time.Duration) *CachedAnalytics {
	return &CachedAnalytics{
		Analytics: a,
		summaries: cache.NewLRUCache[core.MonthSummary](size, ttl),
		budgets:   cache.NewLRUCache[[]core.BudgetStatus](size, ttl),
		months:    cache.NewLRUCache[core.Month](1, ttl),
	}
}

// Caches returns the underlying caches for periodic cleanup.
func (c *CachedAnalytics) Caches() []cache.Cleaner {
	return []cache.Cleaner{c.summaries, c.budgets, c.months}
}

func (c *CachedAnalytics) key(ctx context.Context, kind string, month core.Month) (string, error) {
	gen := c.generation.Load()
	rev, err := c.store.Revision(ctx)
	if err != nil {
		return "", fmt.Errorf("read store revision: %w", err)
	}
	return fmt.Sprintf("%d:%d:%s:%s", gen, rev, kind, month), nil
}

func cached[T any](ctx context.Context, c *CachedAnalytics, lru *cache.LRUCache[T], kind string, month core.Month, load func(context.Context) (T, error)) (T, error) {
	key, err := c.key(ctx, kind, month)
	if err != nil {
		var zero T
		return zero, err
	}
	if v, ok := lru.Get(key); ok {
		return v, nil
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		lru.Set(key, v)
		return v, nil
	})
	if shared {
		slog.DebugContext(ctx, "Coalesced analytics read", "key", key)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *CachedAnalytics) Summary(ctx context.Context, month core.Month) (core.MonthSummary, error) {
	return cached(ctx, c, c.summaries, "summary", month, func(ctx context.Context) (core.MonthSummary, error) {
		return c.Analytics.Summary(ctx, month)
	})
}

func (c *CachedAnalytics) Budgets(ctx context.Context, month core.Month) ([]core.BudgetStatus, error) {
	statuses, err := cached(ctx, c, c.budgets, "budgets", month, func(ctx context.Context) ([]core.BudgetStatus, error) {
		return c.Analytics.Budgets(ctx, month)
	})
	return append([]core.BudgetStatus(nil), statuses...), err
}

func (c *CachedAnalytics) DefaultMonth(ctx context.Context) (core.Month, error) {
	return cached(ctx, c, c.months, "default", core.MonthOf(c.now()), c.Analytics.DefaultMonth)
}

// Invalidate drops every cached value.
func (c *CachedAnalytics) Invalidate() {
	c.generation.Add(1)
	c.summaries.Purge()
	c.budgets.Purge()
	c.months.Purge()
}

// Notify implements Notifier so the cache can sit next to the AMQP publisher.
func (c *CachedAnalytics) Notify(ctx context.Context, ev core.LedgerEvent) error {
	c.Invalidate()
	slog.DebugContext(ctx, "Analytics cache invalidated", "kind", ev.Kind, "month", ev.Month)
	return nil
}
