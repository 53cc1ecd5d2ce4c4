package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds shared by every service. Handlers map them to HTTP statuses via HTTPStatus.
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrForbidden          = errors.New("forbidden")

	// OTP errors
	ErrOTPInvalid = errors.New("invalid otp")
	ErrOTPExpired = errors.New("otp expired")

	// Payment and subscription errors
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrDuplicateTransaction      = errors.New("duplicate transaction")

	// General errors
	ErrTransportFailure = errors.New("transport failure")
	ErrValidation       = errors.New("validation failure")
	ErrNotFound         = errors.New("not found")
	ErrInternal         = errors.New("internal error")
)

var defaultMessages = map[error]string{
	ErrInvalidCredentials:        "Invalid email or password",
	ErrInvalidToken:              "Invalid token",
	ErrForbidden:                 "Access denied",
	ErrOTPInvalid:                "Invalid OTP",
	ErrOTPExpired:                "OTP expired or not requested",
	ErrPaymentVerificationFailed: "Payment verification failed",
	ErrDuplicateTransaction:      "This payment has already been used for a subscription",
	ErrTransportFailure:          "Upstream service unavailable, please try again",
	ErrValidation:                "Invalid request",
	ErrNotFound:                  "Not found",
	ErrInternal:                  "Internal server error",
}

// kindOrder is the lookup order when an error chain matches several kinds.
var kindOrder = []error{
	ErrValidation,
	ErrInvalidCredentials,
	ErrInvalidToken,
	ErrForbidden,
	ErrOTPInvalid,
	ErrOTPExpired,
	ErrDuplicateTransaction,
	ErrPaymentVerificationFailed,
	ErrTransportFailure,
	ErrNotFound,
	ErrInternal,
}

// Error pairs an error kind with a message that is safe to show to clients.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds an error of the given kind with a client-safe message.
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and client-safe message to an underlying cause.
func Wrap(kind error, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation is shorthand for a ValidationFailure with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// Wrapf wraps an error with context using fmt.Errorf.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Kind returns the first known kind in the error chain, or ErrInternal.
func Kind(err error) error {
	for _, kind := range kindOrder {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// HTTPStatus maps an error chain to the status code returned to clients.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrValidation, ErrOTPInvalid, ErrOTPExpired:
		return http.StatusBadRequest
	case ErrInvalidCredentials, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrPaymentVerificationFailed:
		return http.StatusPaymentRequired
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrDuplicateTransaction:
		return http.StatusConflict
	case ErrTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message clients may see. Internal failures never leak detail.
func PublicMessage(err error) string {
	kind := Kind(err)
	if kind == ErrInternal {
		return defaultMessages[ErrInternal]
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return defaultMessages[kind]
}

// Retryable reports whether the caller may sensibly retry the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransportFailure)
}
