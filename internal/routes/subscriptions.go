package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/harvestloop/harvestloop/internal/subscription"
)

// RegisterSubscriptionRoutes wires plan listing and the authenticated
// subscription endpoints. Purchases honour an optional Idempotency-Key.
func RegisterSubscriptionRoutes(app *fiber.App, h *subscription.Handler, guard []fiber.Handler, idempotency fiber.Handler) {
	group := app.Group("/api/subscriptions")
	group.Get("/plans", h.Plans)

	protected := func(handlers ...fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, guard...), handlers...)
	}
	group.Post("/checkout", protected(h.Checkout)...)
	group.Post("/purchase", protected(idempotency, h.Purchase)...)
	group.Get("/my-subscription", protected(h.MySubscription)...)
	group.Get("/billing-history", protected(h.BillingHistory)...)
	group.Post("/unlock-farmer/:farmerId", protected(h.UnlockFarmer)...)
}
