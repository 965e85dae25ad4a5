package nudge

import (
	"context"
	"log/slog"
)

// Delivery channels.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// Notification is what a Notifier delivers for an accepted nudge.
type Notification struct {
	NudgeID    string
	FromUserID string
	ToUserID   string
	WeekKey    string
	Message    string
}

// Notifier delivers a nudge over one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier records deliveries in the log instead of sending them.
type LogNotifier struct {
	channel string
	logger  *slog.Logger
}

// NewLogNotifier creates a LogNotifier for channel.
func NewLogNotifier(channel string, logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{channel: channel, logger: logger}
}

// Channel implements Notifier.
func (n *LogNotifier) Channel() string { return n.channel }

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, msg Notification) error {
	n.logger.InfoContext(ctx, "nudge delivered",
		"channel", n.channel,
		"nudge_id", msg.NudgeID,
		"from_user_id", msg.FromUserID,
		"to_user_id", msg.ToUserID,
		"week_key", msg.WeekKey)
	return nil
}
