package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/notification"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func saveChallenge(t *testing.T, store *RedisStore, code string, ttl time.Duration) {
	t.Helper()
	now := time.Now()
	err := store.Save(context.Background(), Challenge{
		Channel:     notification.ChannelEmail,
		Destination: "farmer@test.com",
		Code:        code,
		GeneratedAt: now,
		ExpiresAt:   now.Add(ttl),
	})
	require.NoError(t, err)
}

func TestRedisStoreSingleUse(t *testing.T) {
	store, mr := newRedisStore(t)
	saveChallenge(t, store, "123456", 5*time.Minute)
	require.True(t, mr.Exists("otp:email:farmer@test.com"))

	ctx := context.Background()
	require.NoError(t, store.Check(ctx, notification.ChannelEmail, "farmer@test.com", "123456", 3))
	require.False(t, mr.Exists("otp:email:farmer@test.com"))
	require.ErrorIs(t, store.Check(ctx, notification.ChannelEmail, "farmer@test.com", "123456", 3), apperrors.ErrOTPExpired)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	saveChallenge(t, store, "123456", 5*time.Minute)

	mr.FastForward(5*time.Minute + time.Second)
	err := store.Check(context.Background(), notification.ChannelEmail, "farmer@test.com", "123456", 3)
	require.ErrorIs(t, err, apperrors.ErrOTPExpired)
}

func TestRedisStoreAttempts(t *testing.T) {
	store, mr := newRedisStore(t)
	saveChallenge(t, store, "123456", 5*time.Minute)
	ctx := context.Background()

	require.ErrorIs(t, store.Check(ctx, notification.ChannelEmail, "farmer@test.com", "000000", 2), apperrors.ErrOTPInvalid)
	require.Equal(t, "1", mr.HGet("otp:email:farmer@test.com", "attempts"))
	require.ErrorIs(t, store.Check(ctx, notification.ChannelEmail, "farmer@test.com", "000000", 2), apperrors.ErrOTPExpired)
	require.False(t, mr.Exists("otp:email:farmer@test.com"))
}

func TestRedisStoreFailedAttemptKeepsTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	saveChallenge(t, store, "123456", 5*time.Minute)

	require.ErrorIs(t, store.Check(context.Background(), notification.ChannelEmail, "farmer@test.com", "000000", 3), apperrors.ErrOTPInvalid)
	require.Greater(t, mr.TTL("otp:email:farmer@test.com"), time.Duration(0))
}

func TestRedisStoreCorruptAttemptsExhaustChallenge(t *testing.T) {
	store, mr := newRedisStore(t)
	saveChallenge(t, store, "123456", 5*time.Minute)
	mr.HSet("otp:email:farmer@test.com", "attempts", "garbage")

	err := store.Check(context.Background(), notification.ChannelEmail, "farmer@test.com", "123456", 3)
	require.ErrorIs(t, err, apperrors.ErrOTPExpired)
	require.False(t, mr.Exists("otp:email:farmer@test.com"))
}
