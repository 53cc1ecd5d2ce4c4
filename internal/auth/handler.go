package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/logging"
)

// CredentialVerifier checks an email/password pair.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (identity.Identity, error)
}

// Handler exposes the password login endpoint.
type Handler struct {
	ids    CredentialVerifier
	issuer *Issuer
	logger *slog.Logger
}

// NewHandler wires the login handler.
func NewHandler(ids CredentialVerifier, issuer *Issuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{ids: ids, issuer: issuer, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is shared by password and OTP logins.
type LoginResponse struct {
	Message   string        `json:"message"`
	Token     string        `json:"token"`
	UserID    string        `json:"userId"`
	Email     string        `json:"email"`
	Role      identity.Role `json:"role"`
	ExpiresAt int64         `json:"expiresAt"`
}

// NewLoginResponse renders a session credential.
func NewLoginResponse(cred SessionCredential) LoginResponse {
	return LoginResponse{
		Message:   "Login successful",
		Token:     cred.Token,
		UserID:    cred.UserID,
		Email:     cred.Email,
		Role:      cred.Role,
		ExpiresAt: cred.ExpiresAt.Unix(),
	}
}

// Login validates credentials and returns a session token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	user, err := h.ids.VerifyCredentials(c.UserContext(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("email", logging.MaskDestination(req.Email)))
		return err
	}
	cred, err := h.issuer.Issue(user)
	if err != nil {
		return err
	}
	h.logger.Info("login succeeded", slog.String("user_id", user.ID), slog.String("role", string(user.Role)))
	return c.Status(http.StatusOK).JSON(NewLoginResponse(cred))
}
