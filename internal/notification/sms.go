package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

// TwilioConfig holds the Twilio Messages API credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Timeout    time.Duration
}

// SMSNotifier sends text messages through the Twilio REST API.
type SMSNotifier struct {
	cfg    TwilioConfig
	client *http.Client
}

// NewSMSNotifier builds a Twilio-backed notifier with a bounded HTTP timeout.
func NewSMSNotifier(cfg TwilioConfig) *SMSNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SMSNotifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Send posts the message body to the destination phone number.
func (n *SMSNotifier) Send(ctx context.Context, message Message) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(n.cfg.BaseURL, "/"), url.PathEscape(n.cfg.AccountSID))
	form := url.Values{}
	form.Set("To", message.Destination)
	form.Set("From", n.cfg.From)
	form.Set("Body", message.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "SMS provider unreachable", err)
	}
	defer resp.Body.Close()

	var payload twilioResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &payload)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "SMS provider rejected the message",
			fmt.Errorf("twilio status %d code %d: %s", resp.StatusCode, payload.Code, payload.Message))
	}
	return nil
}
