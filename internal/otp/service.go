package otp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/logging"
	"github.com/harvestloop/harvestloop/internal/notification"
)

// Config tunes challenge lifetime and the debug code echo.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	// ExposeCode returns generated codes to the caller. Development only.
	ExposeCode bool
}

// Channels holds the configured notifier per delivery method. A nil notifier
// puts that channel in degraded mode: the code is logged instead of delivered.
type Channels struct {
	Email notification.Notifier
	SMS   notification.Notifier
}

// DispatchResult reports the outcome of an OTP send.
type DispatchResult struct {
	Success   bool
	Delivered bool
	Degraded  bool
	Message   string
	TestCode  string
}

// Service issues and verifies one-time codes.
type Service struct {
	store    ChallengeStore
	channels map[notification.Channel]notification.Notifier
	fallback notification.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	generate func() (string, error)
}

// NewService wires an OTP service.
func NewService(store ChallengeStore, channels Channels, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	s := &Service{
		store:    store,
		channels: make(map[notification.Channel]notification.Notifier),
		fallback: notification.NewLoggerNotifier(logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		generate: GenerateCode,
	}
	if channels.Email != nil {
		s.channels[notification.ChannelEmail] = channels.Email
	}
	if channels.SMS != nil {
		s.channels[notification.ChannelSMS] = channels.SMS
	}
	return s
}

// ParseMethod validates a delivery method name.
func ParseMethod(method string) (notification.Channel, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "email":
		return notification.ChannelEmail, nil
	case "sms":
		return notification.ChannelSMS, nil
	case "":
		return "", apperrors.Validation("Method is required")
	default:
		return "", apperrors.Validation("Unsupported method %q, use email or sms", method)
	}
}

// NormalizeDestination trims and validates a destination for its channel.
// Email addresses are lowercased and local mobile numbers gain the default
// country code.
func NormalizeDestination(channel notification.Channel, destination string) (string, error) {
	if channel == notification.ChannelEmail {
		return identity.NormalizeEmail(destination)
	}
	return identity.NormalizePhone(destination)
}

// Send generates a code, dispatches it over the requested channel and stores
// the challenge. Delivery failures are reported in the result, not as errors.
func (s *Service) Send(ctx context.Context, destination, method string) (DispatchResult, error) {
	channel, err := ParseMethod(method)
	if err != nil {
		return DispatchResult{}, err
	}
	destination, err = NormalizeDestination(channel, destination)
	if err != nil {
		return DispatchResult{}, err
	}

	code, err := s.generate()
	if err != nil {
		return DispatchResult{}, err
	}

	notifier, configured := s.channels[channel]
	if !configured {
		notifier = s.fallback
	}

	masked := logging.MaskDestination(destination)
	if err := notifier.Send(ctx, s.message(channel, destination, code)); err != nil {
		s.logger.Warn("otp dispatch failed",
			slog.String("channel", string(channel)),
			slog.String("destination", masked),
			slog.String("error", err.Error()),
		)
		return DispatchResult{Success: false, Message: "Failed to send OTP, please try again"}, nil
	}

	now := s.now()
	challenge := Challenge{
		Channel:     channel,
		Destination: destination,
		Code:        code,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if err := s.store.Save(ctx, challenge); err != nil {
		return DispatchResult{}, apperrors.Wrapf(err, "store otp for %s", masked)
	}

	result := DispatchResult{Success: true, Delivered: configured, Degraded: !configured}
	switch {
	case !configured:
		result.Message = "OTP generated; delivery is not configured on this server"
	case channel == notification.ChannelEmail:
		result.Message = "OTP sent to your email"
	default:
		result.Message = "OTP sent to your phone"
	}
	if s.cfg.ExposeCode {
		result.TestCode = code
	}
	s.logger.Info("otp issued",
		slog.String("channel", string(channel)),
		slog.String("destination", masked),
		slog.Bool("degraded", result.Degraded),
	)
	return result, nil
}

// Verify checks a submitted code. A match consumes the challenge.
func (s *Service) Verify(ctx context.Context, destination, method, code string) error {
	channel, err := ParseMethod(method)
	if err != nil {
		return err
	}
	destination, err = NormalizeDestination(channel, destination)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if !ValidCode(code) {
		return apperrors.Validation("OTP must be 6 digits")
	}
	if err := s.store.Check(ctx, channel, destination, code, s.cfg.MaxAttempts); err != nil {
		s.logger.Info("otp verification failed",
			slog.String("channel", string(channel)),
			slog.String("destination", logging.MaskDestination(destination)),
		)
		return err
	}
	return nil
}

func (s *Service) message(channel notification.Channel, destination, code string) notification.Message {
	minutes := int(s.cfg.TTL.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	body := fmt.Sprintf("Your HarvestLoop verification code is %s. It expires in %d minutes.", code, minutes)
	msg := notification.Message{
		Kind:        notification.KindOTP,
		Channel:     channel,
		Destination: destination,
		Body:        body,
	}
	if channel == notification.ChannelEmail {
		msg.Subject = "Your HarvestLoop login code"
		msg.HTML = fmt.Sprintf(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto">
<h2 style="color:#2e7d32">HarvestLoop</h2>
<p>Use the code below to sign in:</p>
<p style="font-size:28px;font-weight:bold;letter-spacing:6px">%s</p>
<p>This code expires in %d minutes. If you did not request it, ignore this email.</p>
</div>`, code, minutes)
	}
	return msg
}
