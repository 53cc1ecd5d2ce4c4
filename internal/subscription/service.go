package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/logging"
	"github.com/harvestloop/harvestloop/internal/notification"
	"github.com/harvestloop/harvestloop/internal/payment"
)

// ContactLookup resolves buyers for purchase confirmations and farmers for
// unlocks.
type ContactLookup interface {
	Get(ctx context.Context, id string) (identity.Identity, error)
}

// Service sells plans and tracks the access units they grant.
type Service struct {
	repo     Repository
	gateway  payment.Gateway
	notifier notification.Notifier
	contacts ContactLookup
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Notifier notification.Notifier
	Contacts ContactLookup
	Currency string
	Logger   *slog.Logger
}

// NewService constructs a subscription service.
func NewService(repo Repository, gateway payment.Gateway, opts Options) *Service {
	if gateway == nil {
		gateway = payment.StaticGateway{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: opts.Notifier,
		contacts: opts.Contacts,
		currency: opts.Currency,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// PurchaseInput is a completed checkout submitted by an authenticated caller.
type PurchaseInput struct {
	IdentityID string
	Plan       string
	PaymentRef string
	OrderID    string
	Signature  string
}

// Checkout is what the browser needs to open the payment widget.
type Checkout struct {
	Key         string
	OrderID     string
	Amount      int64
	Currency    string
	Name        string
	Description string
	Plan        string
}

// Plans lists the purchasable plans.
func (s *Service) Plans() []Plan {
	return Plans()
}

// Checkout opens a provider order for the plan's server-side price.
func (s *Service) Checkout(ctx context.Context, identityID, planName string) (Checkout, error) {
	plan, ok := LookupPlan(planName)
	if !ok {
		return Checkout{}, apperrors.Validation("Unknown plan %q", planName)
	}
	order, err := s.gateway.CreateOrder(ctx, payment.OrderRequest{
		Amount:   plan.PriceMinor,
		Currency: s.currency,
		Receipt:  payment.NewReceipt(),
		Notes:    map[string]string{"plan": plan.Name, "identity_id": identityID},
	})
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{
		Key:         s.gateway.PublicKey(),
		OrderID:     order.ID,
		Amount:      plan.PriceMinor,
		Currency:    s.currency,
		Name:        "HarvestLoop",
		Description: fmt.Sprintf("%s plan subscription", plan.DisplayName),
		Plan:        plan.Name,
	}, nil
}

// Purchase verifies the payment and records the entitlement. Each payment
// reference backs at most one entitlement.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (Entitlement, error) {
	if in.IdentityID == "" {
		return Entitlement{}, apperrors.New(apperrors.ErrInvalidToken, "Authentication token required")
	}
	plan, ok := LookupPlan(in.Plan)
	if !ok {
		if strings.TrimSpace(in.Plan) == "" {
			return Entitlement{}, apperrors.Validation("Plan is required")
		}
		return Entitlement{}, apperrors.Validation("Unknown plan %q", in.Plan)
	}
	ref := strings.TrimSpace(in.PaymentRef)
	if ref == "" {
		return Entitlement{}, apperrors.Validation("Payment transaction reference is required")
	}

	if _, err := s.repo.FindByPaymentRef(ctx, ref); err == nil {
		return Entitlement{}, ErrDuplicatePayment
	} else if !errors.Is(err, ErrNotFound) {
		return Entitlement{}, err
	}

	now := s.now().UTC()
	if _, err := s.repo.FindActive(ctx, in.IdentityID, now); err == nil {
		return Entitlement{}, apperrors.Validation("You already have an active subscription")
	} else if !errors.Is(err, ErrNotFound) {
		return Entitlement{}, err
	}

	verification, err := s.gateway.VerifyPayment(ctx, payment.VerifyRequest{
		PaymentRef:     ref,
		OrderID:        strings.TrimSpace(in.OrderID),
		Signature:      strings.TrimSpace(in.Signature),
		ExpectedAmount: plan.PriceMinor,
		Buyer:          in.IdentityID,
	})
	if err != nil {
		s.logger.Warn("payment verification failed",
			slog.String("identity_id", in.IdentityID),
			slog.String("plan", plan.Name),
			slog.String("payment_ref", ref),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, apperrors.ErrPaymentVerificationFailed) {
			err = apperrors.Wrap(apperrors.ErrPaymentVerificationFailed, "Payment verification failed", err)
		}
		return Entitlement{}, err
	}

	currency := verification.Currency
	if currency == "" {
		currency = s.currency
	}
	entitlement := Entitlement{
		ID:             uuid.NewString(),
		IdentityID:     in.IdentityID,
		Plan:           plan.Name,
		DurationMonths: plan.DurationMonths,
		UnitsGranted:   plan.AccessUnits,
		UnitsRemaining: plan.AccessUnits,
		Amount:         plan.PriceMinor,
		Currency:       strings.ToUpper(currency),
		PaymentRef:     ref,
		OrderID:        verification.OrderID,
		Status:         StatusActive,
		StartedAt:      now,
		EndsAt:         now.AddDate(0, plan.DurationMonths, 0),
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, entitlement); err != nil {
		return Entitlement{}, err
	}

	s.logger.Info("subscription purchased",
		slog.String("identity_id", in.IdentityID),
		slog.String("plan", plan.Name),
		slog.String("entitlement_id", entitlement.ID),
	)
	s.confirm(ctx, entitlement)
	return entitlement, nil
}

// confirm emails the buyer. Failures are logged and never undo the purchase.
func (s *Service) confirm(ctx context.Context, e Entitlement) {
	if s.notifier == nil || s.contacts == nil {
		return
	}
	buyer, err := s.contacts.Get(ctx, e.IdentityID)
	if err != nil || buyer.Email == "" {
		return
	}
	plan, _ := LookupPlan(e.Plan)
	err = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindSubscriptionActivated,
		Channel:     notification.ChannelEmail,
		Destination: buyer.Email,
		Subject:     "Your HarvestLoop subscription is active",
		Body: fmt.Sprintf("Hi %s, your %s plan is active until %s. You can unlock %d farmer contacts.",
			buyer.Username, plan.DisplayName, e.EndsAt.Format("02 Jan 2006"), e.UnitsGranted),
	})
	if err != nil {
		s.logger.Warn("subscription confirmation not sent",
			slog.String("entitlement_id", e.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Current returns the caller's active entitlement.
func (s *Service) Current(ctx context.Context, identityID string) (Entitlement, error) {
	e, err := s.repo.FindActive(ctx, identityID, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return Entitlement{}, apperrors.New(apperrors.ErrNotFound, "No active subscription")
	}
	return e, err
}

// History lists every entitlement the caller has bought, newest first.
func (s *Service) History(ctx context.Context, identityID string) ([]Entitlement, error) {
	return s.repo.ListByIdentity(ctx, identityID)
}

// UnlockFarmer spends one access unit to reveal a farmer's contact details.
// Unlocking the same farmer again is free.
func (s *Service) UnlockFarmer(ctx context.Context, identityID, farmerID string) (UnlockResult, error) {
	if _, err := uuid.Parse(farmerID); err != nil {
		return UnlockResult{}, apperrors.Validation("Invalid farmer id")
	}
	farmer, err := s.lookupFarmer(ctx, farmerID)
	if err != nil {
		return UnlockResult{}, err
	}
	current, err := s.Current(ctx, identityID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return UnlockResult{}, apperrors.New(apperrors.ErrForbidden, "An active subscription is required to unlock farmers")
		}
		return UnlockResult{}, err
	}
	res, err := s.repo.Unlock(ctx, current.ID, farmerID, s.now().UTC())
	if err != nil {
		return UnlockResult{}, err
	}
	res.FarmerName = farmer.Username
	res.FarmerEmail = farmer.Email
	res.FarmerPhone = farmer.Phone
	if !res.AlreadyUnlocked {
		s.logger.Info("farmer unlocked",
			slog.String("identity_id", identityID),
			slog.String("farmer_id", farmerID),
			slog.Int("units_remaining", res.UnitsRemaining),
		)
	}
	return res, nil
}

func (s *Service) lookupFarmer(ctx context.Context, farmerID string) (identity.Identity, error) {
	if s.contacts == nil {
		return identity.Identity{}, errors.New("subscription: no contact lookup configured for unlocks")
	}
	farmer, err := s.contacts.Get(ctx, farmerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return identity.Identity{}, apperrors.New(apperrors.ErrNotFound, "Farmer not found")
		}
		return identity.Identity{}, fmt.Errorf("subscription: load farmer: %w", err)
	}
	if farmer.Role != identity.RoleFarmer {
		return identity.Identity{}, apperrors.Validation("Only farmer profiles can be unlocked")
	}
	return farmer, nil
}

// ExpireLapsed marks entitlements past their end date as expired.
func (s *Service) ExpireLapsed(ctx context.Context) (int64, error) {
	return s.repo.ExpireLapsed(ctx, s.now().UTC())
}

// RunExpiry calls ExpireLapsed every interval until ctx is cancelled.
func (s *Service) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireLapsed(ctx)
			if err != nil {
				s.logger.Error("expire subscriptions", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Info("subscriptions expired", slog.Int64("count", n))
			}
		}
	}
}
