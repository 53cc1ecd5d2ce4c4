package payment

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

// Gateway represents a connector to the external payment provider. CreateOrder
// is the server half of opening the checkout widget; VerifyPayment confirms
// what the widget reported on completion.
type Gateway interface {
	PublicKey() string
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (Verification, error)
}

// OrderRequest describes an amount the customer is about to pay, in paise.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the provider-side order the widget is opened against.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// VerifyRequest carries the widget's completion payload.
type VerifyRequest struct {
	PaymentRef     string
	OrderID        string
	Signature      string
	ExpectedAmount int64
	// Buyer is the identity the checkout order was opened for. When set, the
	// payment's order must carry it.
	Buyer string
}

// Verification is a confirmed payment.
type Verification struct {
	PaymentRef string
	OrderID    string
	Amount     int64
	Currency   string
	Status     string
	Method     string
	VerifiedAt time.Time
}

// NewReceipt returns a sortable unique receipt number for an order.
func NewReceipt() string {
	return "rcpt_" + ksuid.New().String()
}

// StaticGateway simulates the provider for local development. It approves any
// payment reference prefixed "pay_" for the expected amount.
type StaticGateway struct{}

func (StaticGateway) PublicKey() string {
	return "rzp_test_static"
}

// CreateOrder returns a synthetic order.
func (StaticGateway) CreateOrder(_ context.Context, req OrderRequest) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, apperrors.Validation("Amount must be positive")
	}
	receipt := req.Receipt
	if receipt == "" {
		receipt = NewReceipt()
	}
	return Order{
		ID:       "order_" + ksuid.New().String(),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

// VerifyPayment approves "pay_" references and rejects everything else.
func (StaticGateway) VerifyPayment(_ context.Context, req VerifyRequest) (Verification, error) {
	if !strings.HasPrefix(req.PaymentRef, "pay_") {
		return Verification{}, apperrors.New(apperrors.ErrPaymentVerificationFailed, "Payment could not be verified")
	}
	return Verification{
		PaymentRef: req.PaymentRef,
		OrderID:    req.OrderID,
		Amount:     req.ExpectedAmount,
		Currency:   "INR",
		Status:     StatusCaptured,
		Method:     "static",
		VerifiedAt: time.Now().UTC(),
	}, nil
}
