package otp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/auth"
	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/logging"
)

// IdentityFinder resolves the account that owns a verified destination.
type IdentityFinder interface {
	FindByDestination(ctx context.Context, method, destination string) (identity.Identity, error)
}

// Handler exposes the OTP endpoints.
type Handler struct {
	service *Service
	ids     IdentityFinder
	issuer  *auth.Issuer
	logger  *slog.Logger
}

// NewHandler wires the OTP handler.
func NewHandler(service *Service, ids IdentityFinder, issuer *auth.Issuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{service: service, ids: ids, issuer: issuer, logger: logger}
}

type otpRequest struct {
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Method string `json:"method"`
	OTP    string `json:"otp"`
}

// method falls back to the populated destination field when none was named.
func (r otpRequest) method() string {
	if r.Method != "" {
		return r.Method
	}
	switch {
	case r.Email != "":
		return "email"
	case r.Phone != "":
		return "sms"
	}
	return ""
}

func (r otpRequest) destination() string {
	if ch, err := ParseMethod(r.method()); err == nil && ch == "sms" {
		return r.Phone
	}
	return r.Email
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TestOTP string `json:"testOtp,omitempty"`
}

// DestinationKey extracts the rate-limit key of a send-otp request body.
func DestinationKey(c *fiber.Ctx) string {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil || req.destination() == "" {
		return ""
	}
	return req.method() + ":" + req.destination()
}

// SendOTP handles POST /api/send-otp.
func (h *Handler) SendOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(sendResponse{Message: "Invalid request body"})
	}
	result, err := h.service.Send(c.UserContext(), req.destination(), req.method())
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("send otp failed", slog.String("error", err.Error()))
		}
		return c.Status(status).JSON(sendResponse{Message: apperrors.PublicMessage(err)})
	}
	if !result.Success {
		return c.Status(http.StatusInternalServerError).JSON(sendResponse{Message: result.Message})
	}
	return c.JSON(sendResponse{Success: true, Message: result.Message, TestOTP: result.TestCode})
}

// VerifyOTP handles POST /api/verify-otp and issues a session on success.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	method, destination := req.method(), req.destination()
	if err := h.service.Verify(c.UserContext(), destination, method, req.OTP); err != nil {
		return err
	}

	channel, _ := ParseMethod(method)
	destination, _ = NormalizeDestination(channel, destination)
	user, err := h.ids.FindByDestination(c.UserContext(), string(channel), destination)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Info("otp verified for unknown destination", slog.String("destination", logging.MaskDestination(destination)))
		}
		return err
	}
	cred, err := h.issuer.Issue(user)
	if err != nil {
		return err
	}
	resp := auth.NewLoginResponse(cred)
	resp.Message = "OTP verified successfully"
	return c.JSON(resp)
}
