package notification

import (
	"context"
	"log/slog"

	"github.com/harvestloop/harvestloop/internal/logging"
)

const (
	// KindOTP carries a one-time login code.
	KindOTP = "otp"
	// KindSubscriptionActivated confirms a purchased plan.
	KindSubscriptionActivated = "subscription_activated"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Channel     Channel
	Destination string
	Subject     string
	Body        string
	HTML        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger instead of delivering them.
// It is the degraded mode used when a channel's provider is not configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LoggerNotifier{logger: logger}
}

// Send writes the message, body included, to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	n.logger.Info("notification not delivered; provider not configured",
		slog.String("kind", message.Kind),
		slog.String("channel", string(message.Channel)),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}
