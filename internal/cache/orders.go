// Package cache is a short-lived read-through cache for hot order lookups,
// shielding the store from repeated hits during a burst of related events
// for the same order.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hoangnv/shopcore/internal/models"
)

func InitRedis(addr, password string, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("redis connection established", zap.String("addr", addr))
	return rdb, nil
}

type OrderCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewOrderCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *OrderCache {
	return &OrderCache{rdb: rdb, ttl: ttl, logger: logger}
}

func orderKey(id int64) string {
	return fmt.Sprintf("order:%d", id)
}

// Get returns the cached order, or (nil, false) on miss. Cache failures are
// treated as misses; the store remains the source of truth.
func (c *OrderCache) Get(ctx context.Context, id int64) (*models.Order, bool) {
	data, err := c.rdb.Get(ctx, orderKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("order cache read failed", zap.Int64("order_id", id), zap.Error(err))
		}
		return nil, false
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		c.logger.Warn("order cache entry corrupt", zap.Int64("order_id", id), zap.Error(err))
		return nil, false
	}
	return &order, true
}

func (c *OrderCache) Set(ctx context.Context, order *models.Order) {
	data, err := json.Marshal(order)
	if err != nil {
		c.logger.Warn("order cache marshal failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, orderKey(order.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("order cache write failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (c *OrderCache) Invalidate(ctx context.Context, id int64) {
	if err := c.rdb.Del(ctx, orderKey(id)).Err(); err != nil {
		c.logger.Warn("order cache invalidate failed", zap.Int64("order_id", id), zap.Error(err))
	}
}
