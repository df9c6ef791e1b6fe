package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/logger"
)

const catalogKey = "skinroutine:catalog:v1"

// kv is the slice of redis.Cmdable the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CatalogCache decorates a catalog.Repository with a redis read-through
// copy. Redis faults fall back to the underlying repository.
type CatalogCache struct {
	next catalog.Repository
	rdb  kv
	ttl  time.Duration
	log  *logger.Logger
}

func NewCatalogCache(next catalog.Repository, rdb kv, ttl time.Duration, log *logger.Logger) *CatalogCache {
	return &CatalogCache{next: next, rdb: rdb, ttl: ttl, log: log.With("component", "CatalogCache")}
}

func (c *CatalogCache) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	val, err := c.rdb.Get(ctx, catalogKey).Bytes()
	switch {
	case err == nil:
		var cat catalog.Catalog
		if jerr := json.Unmarshal(val, &cat); jerr == nil {
			return &cat, nil
		}
		c.log.Warn("discarding undecodable cached catalog")
	case !errors.Is(err, redis.Nil):
		c.log.Warn("catalog cache read failed", "error", err)
	}

	cat, err := c.next.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(cat); err == nil {
		if err := c.rdb.Set(ctx, catalogKey, payload, c.ttl).Err(); err != nil {
			c.log.Warn("catalog cache write failed", "error", err)
		}
	}
	return cat, nil
}

// Invalidate drops the cached copy so the next load hits the database.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, catalogKey).Err()
}
