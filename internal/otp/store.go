package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/notification"
)

// Challenge is an issued code awaiting verification.
type Challenge struct {
	Channel     notification.Channel
	Destination string
	Code        string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	Attempts    int
}

// ChallengeStore persists outstanding challenges. A new challenge for the same
// channel and destination replaces the previous one.
type ChallengeStore interface {
	Save(ctx context.Context, challenge Challenge) error
	// Check consumes the challenge on a match. A mismatch counts an attempt and
	// removes the challenge once maxAttempts is reached.
	Check(ctx context.Context, channel notification.Channel, destination, code string, maxAttempts int) error
}

var (
	errNoChallenge = apperrors.New(apperrors.ErrOTPExpired, "OTP expired or not requested")
	errExhausted   = apperrors.New(apperrors.ErrOTPExpired, "Too many failed attempts, please request a new OTP")
	errMismatch    = apperrors.New(apperrors.ErrOTPInvalid, "Invalid OTP")
)

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type challengeKey struct {
	channel     notification.Channel
	destination string
}

// MemoryStore keeps challenges in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[challengeKey]Challenge
	now        func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[challengeKey]Challenge), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, challenge Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challengeKey{challenge.Channel, challenge.Destination}] = challenge
	return nil
}

func (s *MemoryStore) Check(_ context.Context, channel notification.Channel, destination, code string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey{channel, destination}
	challenge, ok := s.challenges[key]
	if !ok {
		return errNoChallenge
	}
	if !s.now().Before(challenge.ExpiresAt) {
		delete(s.challenges, key)
		return errNoChallenge
	}
	if codesEqual(challenge.Code, code) {
		delete(s.challenges, key)
		return nil
	}
	challenge.Attempts++
	if challenge.Attempts >= maxAttempts {
		delete(s.challenges, key)
		return errExhausted
	}
	s.challenges[key] = challenge
	return errMismatch
}
