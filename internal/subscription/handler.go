package subscription

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes subscription endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a subscription HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type planResponse struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"displayName"`
	Price          int64    `json:"price"`
	DurationMonths int      `json:"durationMonths"`
	AccessUnits    int      `json:"accessUnits"`
	Features       []string `json:"features"`
}

type entitlementResponse struct {
	ID             string    `json:"id"`
	Plan           string    `json:"plan"`
	Status         string    `json:"status"`
	DurationMonths int       `json:"durationMonths"`
	UnitsGranted   int       `json:"accessUnitsGranted"`
	UnitsRemaining int       `json:"accessUnitsRemaining"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	PaymentRef     string    `json:"paymentTransactionRef"`
	StartedAt      time.Time `json:"startedAt"`
	EndsAt         time.Time `json:"endsAt"`
}

func toEntitlementResponse(e Entitlement) entitlementResponse {
	return entitlementResponse{
		ID:             e.ID,
		Plan:           e.Plan,
		Status:         e.Status,
		DurationMonths: e.DurationMonths,
		UnitsGranted:   e.UnitsGranted,
		UnitsRemaining: e.UnitsRemaining,
		Amount:         e.Amount,
		Currency:       e.Currency,
		PaymentRef:     e.PaymentRef,
		StartedAt:      e.StartedAt,
		EndsAt:         e.EndsAt,
	}
}

func identityID(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "Authentication token required")
	}
	return uid, nil
}

// Plans handles GET /api/subscriptions/plans.
func (h *Handler) Plans(c *fiber.Ctx) error {
	plans := h.service.Plans()
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			Name:           p.Name,
			DisplayName:    p.DisplayName,
			Price:          p.PriceMinor,
			DurationMonths: p.DurationMonths,
			AccessUnits:    p.AccessUnits,
			Features:       p.Features,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// Checkout handles POST /api/subscriptions/checkout.
func (h *Handler) Checkout(c *fiber.Ctx) error {
	uid, err := identityID(c)
	if err != nil {
		return err
	}
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	out, err := h.service.Checkout(c.UserContext(), uid, req.Plan)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"key":         out.Key,
		"orderId":     out.OrderID,
		"amount":      out.Amount,
		"currency":    out.Currency,
		"name":        out.Name,
		"description": out.Description,
		"plan":        out.Plan,
	})
}

type purchaseRequest struct {
	Plan                  string `json:"plan"`
	PaymentTransactionRef string `json:"paymentTransactionRef"`
	OrderID               string `json:"orderId"`
	Signature             string `json:"signature"`
}

// Purchase handles POST /api/subscriptions/purchase.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	uid, err := identityID(c)
	if err != nil {
		return err
	}
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	e, err := h.service.Purchase(c.UserContext(), PurchaseInput{
		IdentityID: uid,
		Plan:       req.Plan,
		PaymentRef: req.PaymentTransactionRef,
		OrderID:    req.OrderID,
		Signature:  req.Signature,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message":      "Subscription activated successfully",
		"subscription": toEntitlementResponse(e),
	})
}

// MySubscription handles GET /api/subscriptions/my-subscription.
func (h *Handler) MySubscription(c *fiber.Ctx) error {
	uid, err := identityID(c)
	if err != nil {
		return err
	}
	e, err := h.service.Current(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"subscription": toEntitlementResponse(e)})
}

// BillingHistory handles GET /api/subscriptions/billing-history.
func (h *Handler) BillingHistory(c *fiber.Ctx) error {
	uid, err := identityID(c)
	if err != nil {
		return err
	}
	items, err := h.service.History(c.UserContext(), uid)
	if err != nil {
		return err
	}
	out := make([]entitlementResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toEntitlementResponse(e))
	}
	return c.JSON(fiber.Map{"history": out})
}

// UnlockFarmer handles POST /api/subscriptions/unlock-farmer/:farmerId.
func (h *Handler) UnlockFarmer(c *fiber.Ctx) error {
	uid, err := identityID(c)
	if err != nil {
		return err
	}
	res, err := h.service.UnlockFarmer(c.UserContext(), uid, c.Params("farmerId"))
	if err != nil {
		return err
	}
	message := "Farmer unlocked"
	if res.AlreadyUnlocked {
		message = "Farmer already unlocked"
	}
	return c.JSON(fiber.Map{
		"message":              message,
		"farmerId":             res.FarmerID,
		"accessUnitsRemaining": res.UnitsRemaining,
		"alreadyUnlocked":      res.AlreadyUnlocked,
		"farmer": fiber.Map{
			"id":       res.FarmerID,
			"username": res.FarmerName,
			"email":    res.FarmerEmail,
			"phone":    res.FarmerPhone,
		},
	})
}
