package nudge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

// ErrNoPartner is returned when the sender has no linked co-parent.
var ErrNoPartner = errors.New("no partner")

// Reasons a nudge cannot be sent.
const (
	ReasonNoPartner = "no_partner"
	ReasonCooldown  = "cooldown"
)

const defaultMessage = "Your co-parent is ready to go over this week's plan together."

// Store is the persistence the Sender needs.
type Store interface {
	History
	GetPartnerID(ctx context.Context, userID string) (string, error)
	InsertNudge(ctx context.Context, n *domain.NudgeRecord) error
}

// Result describes a Send call. Notifications maps each channel to whether
// delivery succeeded.
type Result struct {
	Decision
	Nudge         *domain.NudgeRecord
	Notifications map[string]bool
}

// Status is whether a user could nudge right now.
type Status struct {
	CanNudge        bool   `json:"canNudge"`
	Reason          string `json:"reason,omitempty"`
	CooldownMinutes int    `json:"cooldownMinutes,omitempty"`
}

// Sender persists accepted nudges and notifies the partner.
type Sender struct {
	store     Store
	limiter   *Limiter
	notifiers []Notifier
	logger    *slog.Logger

	// mu makes the cooldown check and the insert atomic within a process.
	mu sync.Mutex
}

// NewSender creates a Sender.
func NewSender(store Store, limiter *Limiter, notifiers []Notifier, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{store: store, limiter: limiter, notifiers: notifiers, logger: logger}
}

// Send nudges fromUserID's partner for weekKey. A rejected nudge is not an
// error; check Result.Accepted. Delivery failures are reported per channel
// and never undo the stored record.
func (s *Sender) Send(ctx context.Context, fromUserID, weekKey string, now time.Time) (*Result, error) {
	partnerID, err := s.partner(ctx, fromUserID)
	if err != nil {
		return nil, err
	}

	record, decision, err := s.record(ctx, fromUserID, partnerID, weekKey, now)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		s.logger.Info("nudge rejected by cooldown",
			"from_user_id", fromUserID,
			"week_key", weekKey,
			"retry_after_minutes", decision.RetryAfterMinutes)
		return &Result{Decision: decision}, nil
	}

	msg := Notification{
		NudgeID:    record.ID,
		FromUserID: fromUserID,
		ToUserID:   partnerID,
		WeekKey:    weekKey,
		Message:    defaultMessage,
	}
	delivered := make(map[string]bool, len(s.notifiers))
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			s.logger.Warn("nudge delivery failed",
				"channel", n.Channel(),
				"nudge_id", record.ID,
				"error", err)
			delivered[n.Channel()] = false
			continue
		}
		delivered[n.Channel()] = true
	}

	s.logger.Info("nudge sent", "nudge_id", record.ID, "from_user_id", fromUserID, "week_key", weekKey)
	return &Result{Decision: decision, Nudge: record, Notifications: delivered}, nil
}

// Status reports whether fromUserID could nudge for weekKey at now.
func (s *Sender) Status(ctx context.Context, fromUserID, weekKey string, now time.Time) (Status, error) {
	partnerID, err := s.partner(ctx, fromUserID)
	if errors.Is(err, ErrNoPartner) {
		return Status{Reason: ReasonNoPartner}, nil
	}
	if err != nil {
		return Status{}, err
	}

	decision, err := s.limiter.TryNudge(ctx, fromUserID, partnerID, weekKey, now)
	if err != nil {
		return Status{}, err
	}
	if !decision.Accepted {
		return Status{Reason: ReasonCooldown, CooldownMinutes: decision.RetryAfterMinutes}, nil
	}
	return Status{CanNudge: true}, nil
}

// record checks the cooldown and stores a new nudge when it is accepted.
func (s *Sender) record(ctx context.Context, fromUserID, toUserID, weekKey string, now time.Time) (*domain.NudgeRecord, Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	decision, err := s.limiter.TryNudge(ctx, fromUserID, toUserID, weekKey, now)
	if err != nil || !decision.Accepted {
		return nil, decision, err
	}

	record := &domain.NudgeRecord{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		WeekKey:    weekKey,
		SentAt:     now,
	}
	if err := s.store.InsertNudge(ctx, record); err != nil {
		return nil, Decision{}, fmt.Errorf("insert nudge: %w", err)
	}
	return record, decision, nil
}

func (s *Sender) partner(ctx context.Context, userID string) (string, error) {
	partnerID, err := s.store.GetPartnerID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get partner: %w", err)
	}
	if partnerID == "" {
		return "", ErrNoPartner
	}
	return partnerID, nil
}
