package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coparent-ritual/internal/domain"
	"github.com/ashureev/coparent-ritual/internal/insight"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "alex", t0))
	require.NoError(t, s.EnsureUser(ctx, "alex", t0.Add(time.Hour)))

	var lastSeen int64
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT last_seen_at FROM users WHERE user_id = ?`, "alex").Scan(&lastSeen))
	assert.Equal(t, t0.Add(time.Hour).UnixMilli(), lastSeen)
}

func TestSetPartnerLinksBothWays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetPartnerID(ctx, "alex")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SetPartner(ctx, "alex", "sam"))
	id, err = s.GetPartnerID(ctx, "alex")
	require.NoError(t, err)
	assert.Equal(t, "sam", id)
	id, err = s.GetPartnerID(ctx, "sam")
	require.NoError(t, err)
	assert.Equal(t, "alex", id)

	require.NoError(t, s.SetPartner(ctx, "alex", "jordan"))
	id, err = s.GetPartnerID(ctx, "sam")
	require.NoError(t, err)
	assert.Empty(t, id, "old link is dropped")
	id, err = s.GetPartnerID(ctx, "jordan")
	require.NoError(t, err)
	assert.Equal(t, "alex", id)
}

func TestRitualProgressRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetRitualProgress(ctx, "alex", "2026-W10")
	require.NoError(t, err)
	assert.Nil(t, got)

	p := &domain.RitualProgress{UserID: "alex", WeekKey: "2026-W10", CurrentStep: 3, UpdatedAt: t0}
	require.NoError(t, s.UpsertRitualProgress(ctx, p))

	completed := t0.Add(time.Hour)
	p.CurrentStep = domain.StepComplete
	p.CompletedAt = &completed
	p.UpdatedAt = completed
	require.NoError(t, s.UpsertRitualProgress(ctx, p))

	got, err = s.GetRitualProgress(ctx, "alex", "2026-W10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StepComplete, got.CurrentStep)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	assert.True(t, got.UpdatedAt.Equal(completed))

	other, err := s.GetRitualProgress(ctx, "alex", "2026-W11")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestLatestNudge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LatestNudge(ctx, "alex", "sam", "2026-W10")
	require.NoError(t, err)
	assert.Nil(t, got)

	for i, at := range []time.Time{t0, t0.Add(2 * time.Hour), t0.Add(time.Hour)} {
		require.NoError(t, s.InsertNudge(ctx, &domain.NudgeRecord{
			ID:         string(rune('a' + i)),
			FromUserID: "alex",
			ToUserID:   "sam",
			WeekKey:    "2026-W10",
			SentAt:     at,
		}))
	}
	require.NoError(t, s.InsertNudge(ctx, &domain.NudgeRecord{ID: "other", FromUserID: "sam", ToUserID: "alex", WeekKey: "2026-W10", SentAt: t0.Add(5 * time.Hour)}))

	got, err = s.LatestNudge(ctx, "alex", "sam", "2026-W10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
	assert.True(t, got.SentAt.Equal(t0.Add(2*time.Hour)))
}

func TestCacheKVBacksInsightCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := t0
	clock := func() time.Time { return now }

	cache := insight.NewCache(NewCacheKV(s, clock), time.Hour, clock, nil)
	key := insight.MakeKey([]string{"e1"}, nil)
	bundle := insight.Synthesize(domain.WeekSummary{Narrative: "Calm week"}, nil)

	cache.Put(ctx, key, bundle)
	entry, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "Calm week", entry.Bundle.Narrative)

	now = t0.Add(time.Hour)
	_, ok = cache.Get(ctx, key)
	assert.False(t, ok, "expired at the ttl boundary")
}

func TestPruneCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCacheValue(ctx, "old", []byte("{}"), t0))
	require.NoError(t, s.PutCacheValue(ctx, "new", []byte("{}"), t0.Add(90*time.Minute)))

	assert.Equal(t, int64(1), pruneCache(ctx, s, time.Hour, t0.Add(2*time.Hour)))

	_, ok, err := s.GetCacheValue(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetCacheValue(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}
