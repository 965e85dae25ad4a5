package domain

import (
	"time"
)

// NudgeRecord is an accepted nudge from one partner to the other.
// Records are append-only.
type NudgeRecord struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	WeekKey    string    `json:"weekKey"`
	SentAt     time.Time `json:"sentAt"`
}
