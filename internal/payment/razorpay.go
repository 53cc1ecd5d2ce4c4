package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

const (
	StatusCaptured   = "captured"
	StatusAuthorized = "authorized"
)

// RazorpayConfig holds API credentials for the Razorpay REST API.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

// RazorpayGateway talks to the Razorpay orders and payments APIs.
type RazorpayGateway struct {
	cfg    RazorpayConfig
	client *http.Client
	now    func() time.Time
}

// NewRazorpayGateway builds a gateway with a bounded HTTP timeout.
func NewRazorpayGateway(cfg RazorpayConfig) *RazorpayGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RazorpayGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

func (g *RazorpayGateway) PublicKey() string {
	return g.cfg.KeyID
}

type razorpayOrder struct {
	ID       string            `json:"id,omitempty"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Status   string            `json:"status,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	OrderID  string `json:"order_id"`
	Method   string `json:"method"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a provider order for the amount.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, apperrors.Validation("Amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}
	receipt := req.Receipt
	if receipt == "" {
		receipt = NewReceipt()
	}
	payload, err := json.Marshal(razorpayOrder{Amount: req.Amount, Currency: currency, Receipt: receipt, Notes: req.Notes})
	if err != nil {
		return Order{}, fmt.Errorf("razorpay: encode order: %w", err)
	}

	var out razorpayOrder
	status, detail, err := g.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(payload), &out)
	if err != nil {
		return Order{}, apperrors.Wrap(apperrors.ErrTransportFailure, "Payment provider unavailable, please retry", err)
	}
	if status >= http.StatusBadRequest {
		return Order{}, apperrors.Wrap(apperrors.ErrTransportFailure, "Payment provider rejected the order", fmt.Errorf("razorpay orders status %d: %s", status, detail))
	}
	return Order{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Receipt: out.Receipt, Status: out.Status}, nil
}

// VerifyPayment confirms the payment with the provider. A payment is verified
// when it is captured or authorized for exactly the expected amount and, when
// the widget supplied one, the signature matches.
func (g *RazorpayGateway) VerifyPayment(ctx context.Context, req VerifyRequest) (Verification, error) {
	if req.Signature != "" {
		if req.OrderID == "" || !g.validSignature(req.OrderID, req.PaymentRef, req.Signature) {
			return Verification{}, apperrors.New(apperrors.ErrPaymentVerificationFailed, "Payment signature mismatch")
		}
	}

	var p razorpayPayment
	status, detail, err := g.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(req.PaymentRef), nil, &p)
	if err != nil {
		return Verification{}, apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Could not verify payment, please retry",
			apperrors.Wrap(apperrors.ErrTransportFailure, "Payment provider unavailable", err))
	}
	switch {
	case status == http.StatusUnauthorized:
		return Verification{}, fmt.Errorf("razorpay: credentials rejected: %s", detail)
	case status >= http.StatusInternalServerError:
		return Verification{}, apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Could not verify payment, please retry",
			apperrors.Wrap(apperrors.ErrTransportFailure, "Payment provider unavailable", fmt.Errorf("razorpay payments status %d: %s", status, detail)))
	case status >= http.StatusBadRequest:
		return Verification{}, apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Payment not found", fmt.Errorf("razorpay: %s", detail))
	}

	if p.Status != StatusCaptured && p.Status != StatusAuthorized {
		return Verification{}, apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Payment was not completed", fmt.Errorf("status=%s", p.Status))
	}
	if p.Amount != req.ExpectedAmount {
		return Verification{}, apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Payment amount does not match the plan price",
			fmt.Errorf("paid %d, expected %d", p.Amount, req.ExpectedAmount))
	}
	if req.OrderID != "" && p.OrderID != req.OrderID {
		return Verification{}, apperrors.New(apperrors.ErrPaymentVerificationFailed, "Payment does not belong to this order")
	}
	if req.Buyer != "" {
		if err := g.checkOrderOwner(ctx, p.OrderID, req.Buyer); err != nil {
			return Verification{}, err
		}
	}

	return Verification{
		PaymentRef: p.ID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     p.Status,
		Method:     p.Method,
		VerifiedAt: g.now().UTC(),
	}, nil
}

// checkOrderOwner fetches the payment's order and compares the identity noted
// on it at checkout with buyer.
func (g *RazorpayGateway) checkOrderOwner(ctx context.Context, orderID, buyer string) error {
	if orderID == "" {
		return apperrors.New(apperrors.ErrPaymentVerificationFailed, "Payment is not linked to a checkout order")
	}
	var o struct {
		ID    string          `json:"id"`
		Notes json.RawMessage `json:"notes"`
	}
	status, detail, err := g.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &o)
	if err == nil && status >= http.StatusInternalServerError {
		err = fmt.Errorf("razorpay orders status %d: %s", status, detail)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Could not verify payment, please retry",
			apperrors.Wrap(apperrors.ErrTransportFailure, "Payment provider unavailable", err))
	}
	if status >= http.StatusBadRequest {
		return apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Order not found", fmt.Errorf("razorpay: %s", detail))
	}
	// Razorpay encodes empty notes as [].
	notes := map[string]string{}
	_ = json.Unmarshal(o.Notes, &notes)
	if notes["identity_id"] != buyer {
		return apperrors.New(apperrors.ErrPaymentVerificationFailed, "Payment belongs to another account")
	}
	return nil
}

// Sign computes the checkout signature for an order and payment pair.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *RazorpayGateway) validSignature(orderID, paymentID, signature string) bool {
	expected := Sign(g.cfg.KeySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// do performs an authenticated request, decoding 2xx bodies into out. Error
// responses return the provider's description.
func (g *RazorpayGateway) do(ctx context.Context, method, path string, body io.Reader, out any) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return 0, "", err
	}
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var perr razorpayError
		_ = json.Unmarshal(raw, &perr)
		return resp.StatusCode, perr.Error.Description, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, "", nil
}
