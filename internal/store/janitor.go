package store

import (
	"context"
	"log/slog"
	"time"
)

const janitorInterval = 15 * time.Minute

// CachePruner removes old insight cache entries.
type CachePruner interface {
	DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartCacheJanitor runs a background goroutine that periodically deletes
// insight cache entries older than ttl. Entries that old are already misses,
// so this only reclaims space.
func StartCacheJanitor(ctx context.Context, pruner CachePruner, ttl time.Duration) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Cache janitor started", "interval", janitorInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				pruneCache(ctx, pruner, ttl, time.Now())
			case <-ctx.Done():
				slog.Info("Cache janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneCache(ctx context.Context, pruner CachePruner, ttl time.Duration, now time.Time) int64 {
	deleted, err := pruner.DeleteCacheBefore(ctx, now.Add(-ttl))
	if err != nil {
		slog.Error("Cache janitor failed to prune entries", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Cache janitor pruned entries", "count", deleted)
	}
	return deleted
}
