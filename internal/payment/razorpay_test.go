package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

func newFakeRazorpay(t *testing.T, payments map[string]razorpayPayment) *httptest.Server {
	t.Helper()
	return newFakeRazorpayWithOrders(t, payments, nil)
}

// newFakeRazorpayWithOrders also serves GET /v1/orders/{id}; orders maps an
// order id to its raw notes JSON.
func newFakeRazorpayWithOrders(t *testing.T, payments map[string]razorpayPayment, orders map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
		notes, ok := orders[id]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"` + id + `","notes":` + notes + `}`))
	})
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rzp_test_key", id)
		require.Equal(t, "secret", secret)

		var in razorpayOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = "order_123"
		in.Status = "created"
		_ = json.NewEncoder(w).Encode(in)
	})
	mux.HandleFunc("/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
		p, ok := payments[id]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(url string) *RazorpayGateway {
	return NewRazorpayGateway(RazorpayConfig{KeyID: "rzp_test_key", KeySecret: "secret", BaseURL: url})
}

func TestCreateOrder(t *testing.T) {
	srv := newFakeRazorpay(t, nil)
	g := newGateway(srv.URL)

	order, err := g.CreateOrder(context.Background(), OrderRequest{Amount: 19900})
	require.NoError(t, err)
	require.Equal(t, "order_123", order.ID)
	require.Equal(t, int64(19900), order.Amount)
	require.Equal(t, "INR", order.Currency)
	require.True(t, strings.HasPrefix(order.Receipt, "rcpt_"))
	require.Equal(t, "rzp_test_key", g.PublicKey())
}

func TestVerifyPayment(t *testing.T) {
	srv := newFakeRazorpay(t, map[string]razorpayPayment{
		"pay_ok":         {ID: "pay_ok", Amount: 39900, Currency: "INR", Status: "captured", OrderID: "order_1", Method: "upi"},
		"pay_failed":     {ID: "pay_failed", Amount: 39900, Status: "failed"},
		"pay_underpaid":  {ID: "pay_underpaid", Amount: 100, Status: "captured"},
		"pay_authorized": {ID: "pay_authorized", Amount: 39900, Status: "authorized"},
	})
	g := newGateway(srv.URL)
	ctx := context.Background()

	v, err := g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_ok", ExpectedAmount: 39900})
	require.NoError(t, err)
	require.Equal(t, "order_1", v.OrderID)
	require.Equal(t, "upi", v.Method)

	_, err = g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_authorized", ExpectedAmount: 39900})
	require.NoError(t, err)

	for _, ref := range []string{"pay_failed", "pay_underpaid", "pay_missing"} {
		_, err := g.VerifyPayment(ctx, VerifyRequest{PaymentRef: ref, ExpectedAmount: 39900})
		require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed, ref)
		require.False(t, apperrors.Retryable(err), ref)
	}

	_, err = g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_ok", OrderID: "order_other", ExpectedAmount: 39900})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)
}

func TestVerifyPaymentSignature(t *testing.T) {
	srv := newFakeRazorpay(t, map[string]razorpayPayment{
		"pay_ok": {ID: "pay_ok", Amount: 19900, Status: "captured", OrderID: "order_1"},
	})
	g := newGateway(srv.URL)
	ctx := context.Background()

	_, err := g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_ok", OrderID: "order_1", Signature: Sign("secret", "order_1", "pay_ok"), ExpectedAmount: 19900})
	require.NoError(t, err)

	_, err = g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_ok", OrderID: "order_1", Signature: Sign("wrong", "order_1", "pay_ok"), ExpectedAmount: 19900})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)
	require.Equal(t, "Payment signature mismatch", apperrors.PublicMessage(err))
}

func TestVerifyPaymentChecksOrderOwner(t *testing.T) {
	srv := newFakeRazorpayWithOrders(t, map[string]razorpayPayment{
		"pay_mine":    {ID: "pay_mine", Amount: 19900, Status: "captured", OrderID: "order_mine"},
		"pay_theirs":  {ID: "pay_theirs", Amount: 19900, Status: "captured", OrderID: "order_theirs"},
		"pay_bare":    {ID: "pay_bare", Amount: 19900, Status: "captured", OrderID: "order_bare"},
		"pay_noorder": {ID: "pay_noorder", Amount: 19900, Status: "captured"},
	}, map[string]string{
		"order_mine":   `{"plan":"basic","identity_id":"buyer-1"}`,
		"order_theirs": `{"plan":"basic","identity_id":"buyer-2"}`,
		"order_bare":   `[]`,
	})
	g := newGateway(srv.URL)
	ctx := context.Background()

	_, err := g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_mine", ExpectedAmount: 19900, Buyer: "buyer-1"})
	require.NoError(t, err)

	_, err = g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_theirs", ExpectedAmount: 19900, Buyer: "buyer-1"})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)
	require.Equal(t, "Payment belongs to another account", apperrors.PublicMessage(err))

	for _, ref := range []string{"pay_bare", "pay_noorder"} {
		_, err = g.VerifyPayment(ctx, VerifyRequest{PaymentRef: ref, ExpectedAmount: 19900, Buyer: "buyer-1"})
		require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed, ref)
		require.False(t, apperrors.Retryable(err), ref)
	}
}

func TestVerifyPaymentTimeoutIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	g := NewRazorpayGateway(RazorpayConfig{KeyID: "k", KeySecret: "s", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := g.VerifyPayment(context.Background(), VerifyRequest{PaymentRef: "pay_slow", ExpectedAmount: 19900})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)
	require.ErrorIs(t, err, apperrors.ErrTransportFailure)
	require.True(t, apperrors.Retryable(err))
}

func TestStaticGateway(t *testing.T) {
	var g StaticGateway
	ctx := context.Background()

	order, err := g.CreateOrder(ctx, OrderRequest{Amount: 99900, Currency: "INR"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(order.ID, "order_"))

	v, err := g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "pay_dev_1", ExpectedAmount: 99900})
	require.NoError(t, err)
	require.Equal(t, int64(99900), v.Amount)

	_, err = g.VerifyPayment(ctx, VerifyRequest{PaymentRef: "bogus", ExpectedAmount: 99900})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)
}
