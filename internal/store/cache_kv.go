package store

import (
	"context"
	"time"
)

// CacheKV exposes the insight_cache table as a key-value store for the
// insight cache.
type CacheKV struct {
	repo Repository
	now  func() time.Time
}

// NewCacheKV wraps repo. now stamps each write; nil uses time.Now.
func NewCacheKV(repo Repository, now func() time.Time) *CacheKV {
	if now == nil {
		now = time.Now
	}
	return &CacheKV{repo: repo, now: now}
}

// Get returns the stored value for key.
func (c *CacheKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.repo.GetCacheValue(ctx, key)
}

// Put stores value under key.
func (c *CacheKV) Put(ctx context.Context, key string, value []byte) error {
	return c.repo.PutCacheValue(ctx, key, value, c.now())
}
