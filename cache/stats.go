// Package cache holds short-lived Redis copies of expensive reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/models"
)

const statsKey = "cache:dashboard_stats"

// StatsCache stores the dashboard counters. Loan transitions invalidate it.
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewStatsCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *StatsCache {
	return &StatsCache{rdb: rdb, ttl: ttl, log: log}
}

// Get reports a miss (false) on any Redis problem.
func (c *StatsCache) Get(ctx context.Context) (models.DashboardStats, bool) {
	var s models.DashboardStats
	b, err := c.rdb.Get(ctx, statsKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("stats cache read failed", zap.Error(err))
		}
		return s, false
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, false
	}
	return s, true
}

func (c *StatsCache) Set(ctx context.Context, s models.DashboardStats) {
	b, _ := json.Marshal(s)
	if err := c.rdb.Set(ctx, statsKey, b, c.ttl).Err(); err != nil {
		c.log.Warn("stats cache write failed", zap.Error(err))
	}
}

func (c *StatsCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, statsKey).Err(); err != nil {
		c.log.Warn("stats cache invalidate failed", zap.Error(err))
	}
}

// OnLoanEvent matches lifecycle.Observer.
func (c *StatsCache) OnLoanEvent(ctx context.Context, _ models.LoanEvent) { c.Invalidate(ctx) }
