package ritual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

const maxWeekKeyLen = 32

var (
	// ErrInvalidStep is returned for a step outside [0, 5].
	ErrInvalidStep = errors.New("invalid ritual step")
	// ErrInvalidWeekKey is returned for an unusable week key.
	ErrInvalidWeekKey = errors.New("invalid week key")
)

// ProgressStore persists one progress row per (user, week).
type ProgressStore interface {
	GetRitualProgress(ctx context.Context, userID, weekKey string) (*domain.RitualProgress, error)
	UpsertRitualProgress(ctx context.Context, progress *domain.RitualProgress) error
}

// PartnerFinder resolves a user's co-parent. An empty id means no partner.
type PartnerFinder interface {
	GetPartnerID(ctx context.Context, userID string) (string, error)
}

// SyncView is the derived state together with the progress it came from.
// Settled is true when State will not change again this week.
type SyncView struct {
	State           State                  `json:"state"`
	Settled         bool                   `json:"settled"`
	PartnerID       string                 `json:"partnerId,omitempty"`
	MyProgress      *domain.RitualProgress `json:"myProgress,omitempty"`
	PartnerProgress *domain.RitualProgress `json:"partnerProgress,omitempty"`
}

// Service reads and advances ritual progress.
type Service struct {
	store    ProgressStore
	partners PartnerFinder
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. now may be nil to use time.Now.
func NewService(store ProgressStore, partners PartnerFinder, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, partners: partners, now: now, logger: logger}
}

// WeekKey returns the ISO week key (e.g. "2026-W07") containing t.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// NormalizeWeekKey trims key and defaults it to the current ISO week.
func (s *Service) NormalizeWeekKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return WeekKey(s.now()), nil
	}
	if len(key) > maxWeekKeyLen || strings.ContainsAny(key, "|,") {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	return key, nil
}

// Progress returns the user's progress, or a not-started record when none
// exists yet.
func (s *Service) Progress(ctx context.Context, userID, weekKey string) (*domain.RitualProgress, error) {
	p, err := s.store.GetRitualProgress(ctx, userID, weekKey)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if p == nil {
		return &domain.RitualProgress{UserID: userID, WeekKey: weekKey}, nil
	}
	return p, nil
}

// Advance moves the user forward to step. Steps never move backwards here;
// a lower step leaves the record unchanged. Reaching the final step marks the
// ritual complete.
func (s *Service) Advance(ctx context.Context, userID, weekKey string, step int) (*domain.RitualProgress, error) {
	if step < domain.StepOverview || step > domain.StepComplete {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}

	p, err := s.store.GetRitualProgress(ctx, userID, weekKey)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	switch {
	case p == nil:
		p = &domain.RitualProgress{UserID: userID, WeekKey: weekKey}
	case step <= p.CurrentStep:
		return p, nil
	}

	now := s.now()
	p.CurrentStep = step
	if p.CurrentStep == domain.StepComplete && p.CompletedAt == nil {
		p.CompletedAt = &now
	}
	p.UpdatedAt = now

	if err := s.store.UpsertRitualProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	s.logger.Info("ritual progress advanced", "user_id", userID, "week_key", weekKey, "step", p.CurrentStep, "complete", p.IsComplete())
	return p, nil
}

// Reset starts the user's ritual over at the first step.
func (s *Service) Reset(ctx context.Context, userID, weekKey string) (*domain.RitualProgress, error) {
	p := &domain.RitualProgress{
		UserID:      userID,
		WeekKey:     weekKey,
		CurrentStep: domain.StepOverview,
		UpdatedAt:   s.now(),
	}
	if err := s.store.UpsertRitualProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("reset progress: %w", err)
	}
	s.logger.Info("ritual progress reset", "user_id", userID, "week_key", weekKey)
	return p, nil
}

// SyncState loads both partners' progress for weekKey and derives the state.
func (s *Service) SyncState(ctx context.Context, userID, weekKey string) (*SyncView, error) {
	mine, err := s.store.GetRitualProgress(ctx, userID, weekKey)
	if err != nil {
		return nil, fmt.Errorf("get my progress: %w", err)
	}

	partnerID, err := s.partners.GetPartnerID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
	}
	if partnerID == "" {
		state := DeriveState(false, mine, nil)
		return &SyncView{State: state, Settled: state.IsTerminal(), MyProgress: mine}, nil
	}

	partner, err := s.store.GetRitualProgress(ctx, partnerID, weekKey)
	if err != nil {
		return nil, fmt.Errorf("get partner progress: %w", err)
	}
	state := DeriveState(true, mine, partner)
	return &SyncView{
		State:           state,
		Settled:         state.IsTerminal(),
		PartnerID:       partnerID,
		MyProgress:      mine,
		PartnerProgress: partner,
	}, nil
}
