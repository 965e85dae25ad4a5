// Package nudge rate-limits and delivers nudges between co-parents.
package nudge

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

// DefaultCooldown is the minimum time between two accepted nudges for the
// same sender, recipient and week.
const DefaultCooldown = time.Hour

// History finds the most recent accepted nudge for a sender, recipient and
// week. It returns nil when there is none.
type History interface {
	LatestNudge(ctx context.Context, fromUserID, toUserID, weekKey string) (*domain.NudgeRecord, error)
}

// Decision is the result of a cooldown check.
type Decision struct {
	Accepted bool
	// RetryAfterMinutes is the remaining cooldown, rounded up. Zero when
	// Accepted.
	RetryAfterMinutes int
}

// Limiter gates nudges on a per-week cooldown. It keeps no state of its
// own; every check reads the latest record from History.
type Limiter struct {
	history  History
	cooldown time.Duration
}

// NewLimiter creates a Limiter. cooldown <= 0 uses DefaultCooldown.
func NewLimiter(history History, cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{history: history, cooldown: cooldown}
}

// TryNudge reports whether a nudge sent at now would be accepted. It does
// not record anything.
func (l *Limiter) TryNudge(ctx context.Context, fromUserID, toUserID, weekKey string, now time.Time) (Decision, error) {
	last, err := l.history.LatestNudge(ctx, fromUserID, toUserID, weekKey)
	if err != nil {
		return Decision{}, fmt.Errorf("latest nudge: %w", err)
	}
	if last == nil {
		return Decision{Accepted: true}, nil
	}

	elapsed := now.Sub(last.SentAt)
	if elapsed >= l.cooldown {
		return Decision{Accepted: true}, nil
	}
	remaining := l.cooldown - elapsed
	return Decision{RetryAfterMinutes: int(math.Ceil(remaining.Minutes()))}, nil
}
