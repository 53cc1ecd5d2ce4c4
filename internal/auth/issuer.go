package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/identity"
)

const tokenIssuer = "harvestloop"

// Claims are the signed contents of a session credential.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the identity the claims were issued for.
func (c Claims) UserID() string {
	return c.Subject
}

// SessionCredential is a signed, time-limited proof of an authenticated identity.
type SessionCredential struct {
	Token     string
	UserID    string
	Email     string
	Role      identity.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 session credentials. Verification needs
// only the secret and the clock, never the identity store.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an issuer signing with secret; tokens expire after ttl.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Tests use it to move across the expiry boundary.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// TTL is the validity window of issued credentials.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a credential for an identity that has already been verified.
func (i *Issuer) Issue(id identity.Identity) (SessionCredential, error) {
	if id.ID == "" {
		return SessionCredential{}, fmt.Errorf("auth: issue: identity id is required")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := Claims{
		Email: id.Email,
		Role:  string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return SessionCredential{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return SessionCredential{
		Token:     signed,
		UserID:    id.ID,
		Email:     id.Email,
		Role:      id.Role,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks the signature and expiry of a token and returns its claims.
func (i *Issuer) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperrors.Wrap(apperrors.ErrInvalidToken, "Session expired, please login again", err)
		}
		return Claims{}, apperrors.Wrap(apperrors.ErrInvalidToken, "Invalid token", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, apperrors.New(apperrors.ErrInvalidToken, "Invalid token")
	}
	return claims, nil
}
