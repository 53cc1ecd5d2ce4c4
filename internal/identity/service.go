package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/logging"
)

const minPasswordLength = 6

// dummyHash is compared against when no identity matches so both paths cost one bcrypt compare.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("harvestloop-dummy-password"), bcrypt.DefaultCost)

// Service manages identity lookup, credential verification and registration.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, logger: logger}
}

// VerifyCredentials returns the identity for email when password matches its
// stored bcrypt hash. Every failure reason yields apperrors.ErrInvalidCredentials.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Identity{}, apperrors.Validation("Email and password are required")
	}

	identity, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Identity{}, fmt.Errorf("identity: find by email: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.logger.Debug("credential check failed", slog.String("reason", "unknown_email"), slog.String("email", logging.MaskDestination(email)))
		return Identity{}, apperrors.ErrInvalidCredentials
	}

	if len(identity.PasswordHash) == 0 {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.logger.Debug("credential check failed", slog.String("reason", "no_password"), slog.String("user_id", identity.ID))
		return Identity{}, apperrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(identity.PasswordHash, []byte(password)); err != nil {
		s.logger.Debug("credential check failed", slog.String("reason", "password_mismatch"), slog.String("user_id", identity.ID))
		return Identity{}, apperrors.ErrInvalidCredentials
	}

	return identity, nil
}

// Register creates a new identity with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Identity, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return Identity{}, err
	}
	var phone string
	if strings.TrimSpace(in.Phone) != "" {
		if phone, err = NormalizePhone(in.Phone); err != nil {
			return Identity{}, err
		}
	}
	if strings.TrimSpace(in.Username) == "" {
		return Identity{}, apperrors.Validation("Username is required")
	}
	if len(in.Password) < minPasswordLength {
		return Identity{}, apperrors.Validation("Password must be at least %d characters", minPasswordLength)
	}
	role, ok := ParseRole(in.Role)
	if !ok || (role != RoleFarmer && role != RoleConsumer) {
		return Identity{}, apperrors.Validation("Role must be Farmer or Consumer")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: hash password: %w", err)
	}

	identity := Identity{
		ID:           uuid.New().String(),
		Username:     strings.TrimSpace(in.Username),
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return Identity{}, apperrors.Validation("Email already registered")
		}
		return Identity{}, err
	}

	return identity, nil
}

// Get returns an identity by id.
func (s *Service) Get(ctx context.Context, id string) (Identity, error) {
	identity, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, apperrors.New(apperrors.ErrNotFound, "User not found")
	}
	return identity, err
}

// FindByDestination resolves the identity behind an OTP destination.
// method is "email" or "sms".
func (s *Service) FindByDestination(ctx context.Context, method, destination string) (Identity, error) {
	var (
		identity Identity
		err      error
	)
	switch method {
	case "email":
		if destination, err = NormalizeEmail(destination); err != nil {
			return Identity{}, err
		}
		identity, err = s.repo.FindByEmail(ctx, destination)
	case "sms":
		if destination, err = NormalizePhone(destination); err != nil {
			return Identity{}, err
		}
		identity, err = s.repo.FindByPhone(ctx, destination)
	default:
		return Identity{}, apperrors.Validation("Unsupported method %q", method)
	}
	if errors.Is(err, ErrNotFound) {
		return Identity{}, apperrors.New(apperrors.ErrNotFound, "User not found. Please sign up first.")
	}
	return identity, err
}
