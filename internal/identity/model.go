package identity

import (
	"strings"
	"time"
)

// Role is the marketplace role attached to an identity.
type Role string

const (
	RoleFarmer   Role = "Farmer"
	RoleConsumer Role = "Consumer"
	RoleAdmin    Role = "Admin"
	RoleSystem   Role = "System"
)

// ParseRole matches a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	for _, r := range []Role{RoleFarmer, RoleConsumer, RoleAdmin, RoleSystem} {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, true
		}
	}
	return "", false
}

// Identity represents a registered marketplace account.
type Identity struct {
	ID           string
	Username     string
	Email        string
	Phone        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// RegisterInput carries the signup form.
type RegisterInput struct {
	Username string
	Email    string
	Phone    string
	Password string
	Role     string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
