// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

// Repository defines the interface for persisting households, ritual
// progress, nudges and cached insights.
type Repository interface {
	// EnsureUser records userID, creating the row on first sight and
	// refreshing last_seen_at afterwards.
	EnsureUser(ctx context.Context, userID string, seenAt time.Time) error

	// GetPartnerID returns the linked co-parent, or "" when there is none.
	GetPartnerID(ctx context.Context, userID string) (string, error)

	// SetPartner links two users to each other, replacing earlier links of
	// either user.
	SetPartner(ctx context.Context, userID, partnerID string) error

	// GetRitualProgress returns nil when the user has not started the week.
	GetRitualProgress(ctx context.Context, userID, weekKey string) (*domain.RitualProgress, error)

	// UpsertRitualProgress creates or replaces the progress row.
	UpsertRitualProgress(ctx context.Context, p *domain.RitualProgress) error

	// InsertNudge appends an accepted nudge.
	InsertNudge(ctx context.Context, n *domain.NudgeRecord) error

	// LatestNudge returns the most recent nudge for the triple, or nil.
	LatestNudge(ctx context.Context, fromUserID, toUserID, weekKey string) (*domain.NudgeRecord, error)

	// GetCacheValue reads a raw insight cache entry.
	GetCacheValue(ctx context.Context, key string) ([]byte, bool, error)

	// PutCacheValue writes a raw insight cache entry.
	PutCacheValue(ctx context.Context, key string, value []byte, storedAt time.Time) error

	// DeleteCacheBefore removes cache entries stored before cutoff.
	DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
