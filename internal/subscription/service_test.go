package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/notification"
	"github.com/harvestloop/harvestloop/internal/payment"
)

type countingGateway struct {
	payment.StaticGateway
	calls atomic.Int32
	err   error
}

func (g *countingGateway) VerifyPayment(ctx context.Context, req payment.VerifyRequest) (payment.Verification, error) {
	g.calls.Add(1)
	if g.err != nil {
		return payment.Verification{}, g.err
	}
	return g.StaticGateway.VerifyPayment(ctx, req)
}

type stubContacts map[string]identity.Identity

func (s stubContacts) Get(_ context.Context, id string) (identity.Identity, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return identity.Identity{}, apperrors.New(apperrors.ErrNotFound, "User not found")
}

type capturingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
}

func (n *capturingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
	return n.err
}

func newTestService(t *testing.T, gw payment.Gateway) (*Service, Repository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewService(repo, gw, Options{}), repo
}

func TestPlanLookup(t *testing.T) {
	p, ok := LookupPlan(" Premium ")
	require.True(t, ok)
	require.Equal(t, int64(39900), p.PriceMinor)
	require.Equal(t, 3, p.DurationMonths)
	require.Equal(t, 25, p.AccessUnits)

	_, ok = LookupPlan("gold")
	require.False(t, ok)
	require.Len(t, Plans(), 3)
}

func TestPurchaseCreatesEntitlement(t *testing.T) {
	svc, _ := newTestService(t, &countingGateway{})
	fixed := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	uid := uuid.NewString()

	e, err := svc.Purchase(context.Background(), PurchaseInput{IdentityID: uid, Plan: "BASIC", PaymentRef: "pay_abc"})
	require.NoError(t, err)
	require.Equal(t, "basic", e.Plan)
	require.Equal(t, int64(19900), e.Amount)
	require.Equal(t, 10, e.UnitsRemaining)
	require.Equal(t, StatusActive, e.Status)
	require.Equal(t, fixed.AddDate(0, 1, 0), e.EndsAt)

	current, err := svc.Current(context.Background(), uid)
	require.NoError(t, err)
	require.Equal(t, e.ID, current.ID)
}

func TestPurchaseDuplicatePaymentRef(t *testing.T) {
	gw := &countingGateway{}
	svc, _ := newTestService(t, gw)
	ctx := context.Background()

	_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uuid.NewString(), Plan: "basic", PaymentRef: "pay_dup"})
	require.NoError(t, err)

	_, err = svc.Purchase(ctx, PurchaseInput{IdentityID: uuid.NewString(), Plan: "basic", PaymentRef: "pay_dup"})
	require.ErrorIs(t, err, apperrors.ErrDuplicateTransaction)
	require.Equal(t, int32(1), gw.calls.Load(), "replayed ref must not reach the provider")
}

func TestPurchaseConcurrentSameRefCreatesOne(t *testing.T) {
	svc, repo := newTestService(t, &countingGateway{})
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		dupes     atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uuid.NewString(), Plan: "premium", PaymentRef: "pay_race"})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperrors.ErrDuplicateTransaction):
				dupes.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), successes.Load())
	require.Equal(t, int32(workers-1), dupes.Load())
	_, err := repo.FindByPaymentRef(ctx, "pay_race")
	require.NoError(t, err)
}

func TestPurchaseRejectsBadInputWithoutWriting(t *testing.T) {
	gw := &countingGateway{}
	svc, repo := newTestService(t, gw)
	ctx := context.Background()
	uid := uuid.NewString()

	_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "gold", PaymentRef: "pay_1"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "  "})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "not-a-payment"})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)

	history, err := repo.ListByIdentity(ctx, uid)
	require.NoError(t, err)
	require.Empty(t, history)
	require.Equal(t, int32(1), gw.calls.Load())
}

func TestPurchaseTransportFailureIsRetryable(t *testing.T) {
	gw := &countingGateway{err: apperrors.Wrap(apperrors.ErrTransportFailure, "Payment provider unavailable", errors.New("timeout"))}
	svc, _ := newTestService(t, gw)

	_, err := svc.Purchase(context.Background(), PurchaseInput{IdentityID: uuid.NewString(), Plan: "basic", PaymentRef: "pay_1"})
	require.ErrorIs(t, err, apperrors.ErrPaymentVerificationFailed)
	require.True(t, apperrors.Retryable(err))
}

func TestPurchaseBlockedWhileActive(t *testing.T) {
	svc, _ := newTestService(t, &countingGateway{})
	ctx := context.Background()
	uid := uuid.NewString()

	_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "pay_first"})
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "premium", PaymentRef: "pay_second"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.Equal(t, "You already have an active subscription", apperrors.PublicMessage(err))
}

// newUnlockService returns a service whose contact lookup knows n farmers
// and one consumer, the buyer.
func newUnlockService(t *testing.T, n int) (svc *Service, buyer string, farmers []string) {
	t.Helper()
	buyer = uuid.NewString()
	contacts := stubContacts{buyer: {ID: buyer, Username: "asha", Email: "asha@test.com", Role: identity.RoleConsumer}}
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		contacts[id] = identity.Identity{ID: id, Username: "ravi", Email: "ravi@test.com", Phone: "+919800000001", Role: identity.RoleFarmer}
		farmers = append(farmers, id)
	}
	svc = NewService(NewMemoryRepository(), &countingGateway{}, Options{Contacts: contacts})
	return svc, buyer, farmers
}

func TestPurchaseSendsConfirmationBestEffort(t *testing.T) {
	uid := uuid.NewString()
	notifier := &capturingNotifier{err: errors.New("smtp down")}
	svc := NewService(NewMemoryRepository(), &countingGateway{}, Options{
		Notifier: notifier,
		Contacts: stubContacts{uid: {ID: uid, Username: "asha", Email: "asha@test.com"}},
	})

	_, err := svc.Purchase(context.Background(), PurchaseInput{IdentityID: uid, Plan: "unlimited", PaymentRef: "pay_u"})
	require.NoError(t, err)
	require.Len(t, notifier.msgs, 1)
	require.Equal(t, notification.KindSubscriptionActivated, notifier.msgs[0].Kind)
	require.Equal(t, "asha@test.com", notifier.msgs[0].Destination)
}

func TestUnlockFarmerSpendsOneUnitPerFarmer(t *testing.T) {
	svc, uid, farmers := newUnlockService(t, 1)
	ctx := context.Background()
	farmer := farmers[0]

	_, err := svc.UnlockFarmer(ctx, uid, farmer)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "pay_unlock"})
	require.NoError(t, err)

	res, err := svc.UnlockFarmer(ctx, uid, farmer)
	require.NoError(t, err)
	require.Equal(t, 9, res.UnitsRemaining)
	require.False(t, res.AlreadyUnlocked)
	require.Equal(t, "ravi", res.FarmerName)
	require.Equal(t, "+919800000001", res.FarmerPhone)
	require.Equal(t, "ravi@test.com", res.FarmerEmail)

	res, err = svc.UnlockFarmer(ctx, uid, farmer)
	require.NoError(t, err)
	require.Equal(t, 9, res.UnitsRemaining)
	require.True(t, res.AlreadyUnlocked)

	_, err = svc.UnlockFarmer(ctx, uid, "not-a-uuid")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUnlockFarmerRequiresExistingFarmer(t *testing.T) {
	svc, uid, _ := newUnlockService(t, 0)
	ctx := context.Background()
	_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "pay_target"})
	require.NoError(t, err)

	_, err = svc.UnlockFarmer(ctx, uid, uuid.NewString())
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.UnlockFarmer(ctx, uid, uid)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	current, err := svc.Current(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, 10, current.UnitsRemaining)
}

func TestUnlockFarmerExhaustsUnits(t *testing.T) {
	svc, uid, farmers := newUnlockService(t, 11)
	ctx := context.Background()
	_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "pay_many"})
	require.NoError(t, err)

	for _, farmer := range farmers[:10] {
		_, err := svc.UnlockFarmer(ctx, uid, farmer)
		require.NoError(t, err)
	}
	_, err = svc.UnlockFarmer(ctx, uid, farmers[10])
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestExpireLapsed(t *testing.T) {
	svc, _ := newTestService(t, &countingGateway{})
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	uid := uuid.NewString()

	_, err := svc.Purchase(ctx, PurchaseInput{IdentityID: uid, Plan: "basic", PaymentRef: "pay_old"})
	require.NoError(t, err)

	svc.now = func() time.Time { return start.AddDate(0, 1, 1) }
	n, err := svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = svc.Current(ctx, uid)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	history, err := svc.History(ctx, uid)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, StatusExpired, history[0].Status)
}

func TestCheckoutUsesServerPrice(t *testing.T) {
	svc, _ := newTestService(t, &countingGateway{})
	out, err := svc.Checkout(context.Background(), uuid.NewString(), "Unlimited")
	require.NoError(t, err)
	require.Equal(t, int64(99900), out.Amount)
	require.Equal(t, "INR", out.Currency)
	require.Equal(t, "rzp_test_static", out.Key)
	require.NotEmpty(t, out.OrderID)

	_, err = svc.Checkout(context.Background(), uuid.NewString(), "gold")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}
