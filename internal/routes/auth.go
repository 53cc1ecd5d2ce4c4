package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/harvestloop/harvestloop/internal/auth"
	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/otp"
)

// RegisterAuthRoutes wires password login and signup. Login is served both at
// the legacy root path and under /api/auth.
func RegisterAuthRoutes(app *fiber.App, h *auth.Handler, ids *identity.Handler, rateLimiter fiber.Handler) {
	app.Post("/login", rateLimiter, h.Login)
	app.Post("/signup", ids.Register)

	group := app.Group("/api/auth")
	group.Post("/login", rateLimiter, h.Login)
	group.Post("/signup", ids.Register)
}

// RegisterOTPRoutes wires OTP issuance and verification.
func RegisterOTPRoutes(app *fiber.App, h *otp.Handler, rateLimiter fiber.Handler) {
	app.Post("/api/send-otp", rateLimiter, h.SendOTP)
	app.Post("/api/verify-otp", h.VerifyOTP)
}

// RegisterProfileRoutes wires the authenticated profile endpoint.
func RegisterProfileRoutes(app *fiber.App, ids *identity.Handler, jwt fiber.Handler) {
	app.Get("/api/auth/me", jwt, ids.Me)
}
