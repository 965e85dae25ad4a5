// Package insight builds the weekly insight bundle: it fans generation tasks
// out to the provider, parses what comes back, memoizes complete bundles and
// degrades to locally synthesized content when generation is unavailable.
package insight

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

// DefaultCacheTTL is how long a generated bundle stays valid.
const DefaultCacheTTL = time.Hour

const keyPrefix = "week-insights:"

// KV is the storage the cache persists entries into.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Clock returns the current time.
type Clock func() time.Time

// CacheEntry is a stored bundle together with its write time.
type CacheEntry struct {
	Key      string
	Bundle   *domain.WeekInsightBundle
	StoredAt time.Time
}

// storedEntry is the persisted form: {data, timestamp} with a unix millis timestamp.
type storedEntry struct {
	Data      *domain.WeekInsightBundle `json:"data"`
	Timestamp int64                     `json:"timestamp"`
}

// Cache memoizes bundles by fingerprint. Storage failures of any kind are
// treated as a miss; the cache never makes a request fail.
type Cache struct {
	kv     KV
	ttl    time.Duration
	now    Clock
	logger *slog.Logger
}

// NewCache creates a cache over kv. A zero ttl uses DefaultCacheTTL and a nil
// clock uses time.Now.
func NewCache(kv KV, ttl time.Duration, now Clock, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{kv: kv, ttl: ttl, now: now, logger: logger}
}

// idEscaper percent-encodes the key separators so ids containing them
// cannot collide with a different id list.
var idEscaper = strings.NewReplacer("%", "%25", ",", "%2C", "|", "%7C")

// emptyID stands in for "" so a list holding one empty id differs from an
// empty list. A literal "%00" id escapes to "%2500".
const emptyID = "%00"

// MakeKey derives the cache key for a week. Both id lists are sorted first so
// the key does not depend on input order.
func MakeKey(eventIDs, conflictIDs []string) string {
	return keyPrefix + joinIDs(eventIDs) + "|" + joinIDs(conflictIDs)
}

func joinIDs(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for i, id := range sorted {
		if id == "" {
			sorted[i] = emptyID
			continue
		}
		sorted[i] = idEscaper.Replace(id)
	}
	return strings.Join(sorted, ",")
}

// Get returns the entry stored under key unless it is missing, unreadable or
// older than the TTL.
func (c *Cache) Get(ctx context.Context, key string) (*CacheEntry, bool) {
	if c == nil || c.kv == nil {
		return nil, false
	}

	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Debug("insight cache read failed", "cache_key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Data == nil {
		c.logger.Debug("insight cache entry unreadable", "cache_key", key, "error", err)
		return nil, false
	}

	storedAt := time.UnixMilli(stored.Timestamp)
	if c.now().Sub(storedAt) >= c.ttl {
		return nil, false
	}

	return &CacheEntry{Key: key, Bundle: stored.Data, StoredAt: storedAt}, true
}

// Put stores bundle under key. Failures are logged and dropped.
func (c *Cache) Put(ctx context.Context, key string, bundle *domain.WeekInsightBundle) {
	if c == nil || c.kv == nil || bundle == nil {
		return
	}

	raw, err := json.Marshal(storedEntry{Data: bundle, Timestamp: c.now().UnixMilli()})
	if err != nil {
		c.logger.Debug("insight cache encode failed", "cache_key", key, "error", err)
		return
	}
	if err := c.kv.Put(ctx, key, raw); err != nil {
		c.logger.Debug("insight cache write failed", "cache_key", key, "error", err)
	}
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// Put implements KV.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = slices.Clone(value)
	return nil
}

func (m *MemoryKV) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
