package identity

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

// DefaultCountryCode is prefixed to 10-digit local mobile numbers.
const DefaultCountryCode = "+91"

var (
	internationalPhone = regexp.MustCompile(`^\+[0-9]{8,15}$`)
	localMobile        = regexp.MustCompile(`^[1-9][0-9]{9}$`)
	phoneSeparators    = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// NormalizeEmail returns the bare, lowercased address. Display names such as
// "Bob <bob@x.com>" are dropped.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperrors.Validation("Email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", apperrors.Validation("Invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

// NormalizePhone returns the number in E.164 form. Local 10-digit mobile
// numbers get DefaultCountryCode.
func NormalizePhone(raw string) (string, error) {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	switch {
	case phone == "":
		return "", apperrors.Validation("Phone number is required")
	case internationalPhone.MatchString(phone):
		return phone, nil
	case localMobile.MatchString(phone):
		return DefaultCountryCode + phone, nil
	default:
		return "", apperrors.Validation("Phone number must be a 10-digit mobile number or in international format, e.g. +919876543210")
	}
}
