// Package cache provides a Redis-backed read cache for product lookups. The
// cache is best-effort: a nil client or any Redis failure degrades to a miss
// so the query layer falls back to PostgreSQL.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"warrantyledger/product"
)

// NewClient connects to Redis. It returns nil when addr is empty or the
// server is unreachable; callers treat a nil client as "caching disabled".
func NewClient(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// ProductCache caches product records under a short TTL.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProductCache wires the cache. A nil client disables it.
func NewProductCache(client *redis.Client, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &ProductCache{client: client, ttl: ttl}
}

func productKey(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}

// Get returns the cached record and whether it was present.
func (c *ProductCache) Get(ctx context.Context, id int64) (product.Record, bool) {
	if c == nil || c.client == nil {
		return product.Record{}, false
	}
	raw, err := c.client.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		return product.Record{}, false
	}
	var rec product.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return product.Record{}, false
	}
	return rec, true
}

// Set stores the record for the configured TTL. Errors are swallowed; the
// cache never fails a request.
func (c *ProductCache) Set(ctx context.Context, rec product.Record) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, productKey(rec.ID), raw, c.ttl).Err()
}

// Invalidate drops the cached record after a mutation.
func (c *ProductCache) Invalidate(ctx context.Context, id int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, productKey(id)).Err()
}
