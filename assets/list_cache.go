package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	listCacheTTL     = 30 * time.Second
	listCacheTimeout = 300 * time.Millisecond

	modelsCacheKey    = "modelhub:models"
	materialsCacheKey = "modelhub:materials"
)

// listCache keeps short-lived copies of list responses. Every failure is treated as a
// miss; the database stays authoritative.
type listCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func newListCache(client *redis.Client, logger *logrus.Logger) *listCache {
	if client == nil {
		return nil
	}
	return &listCache{client: client, logger: logger}
}

func materialsByModelKey(modelID uint64) string {
	return fmt.Sprintf("modelhub:materials:model:%d", modelID)
}

func (c *listCache) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), listCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= listCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, listCacheTimeout)
}

// load decodes the cached value under key into dst and reports whether it was a hit.
func (c *listCache) load(ctx context.Context, key string, dst any) bool {
	if c == nil {
		return false
	}
	ctx, cancel := c.context(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Debug("assets: list cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("assets: discarding corrupt list cache entry")
		return false
	}
	return true
}

func (c *listCache) store(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx, cancel := c.context(ctx)
	defer cancel()

	if err := c.client.Set(ctx, key, data, listCacheTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("assets: list cache write failed")
	}
}

func (c *listCache) invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := c.context(ctx)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).WithField("keys", keys).Warn("assets: list cache invalidation failed")
	}
}
