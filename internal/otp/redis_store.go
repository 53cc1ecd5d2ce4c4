package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/harvestloop/harvestloop/internal/notification"
)

const (
	keyPrefix    = "otp:"
	checkRetries = 3
)

// RedisStore keeps challenges in Redis hashes that expire with the challenge.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func challengeRedisKey(channel notification.Channel, destination string) string {
	return keyPrefix + string(channel) + ":" + destination
}

func (s *RedisStore) Save(ctx context.Context, challenge Challenge) error {
	ttl := challenge.ExpiresAt.Sub(challenge.GeneratedAt)
	if ttl <= 0 {
		return fmt.Errorf("save otp challenge: non-positive ttl")
	}
	key := challengeRedisKey(challenge.Channel, challenge.Destination)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", challenge.Code,
			"attempts", 0,
			"generated_at", challenge.GeneratedAt.Unix(),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Check(ctx context.Context, channel notification.Channel, destination, code string, maxAttempts int) error {
	key := challengeRedisKey(channel, destination)
	var outcome error

	check := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			outcome = errNoChallenge
			return nil
		}
		attempts, err := strconv.Atoi(fields["attempts"])
		if err != nil {
			// Corrupt counter: treat the challenge as exhausted.
			attempts = maxAttempts
		}
		if attempts < maxAttempts && codesEqual(fields["code"], code) {
			outcome = nil
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		attempts++
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if attempts >= maxAttempts {
				pipe.Del(ctx, key)
			} else {
				pipe.HSet(ctx, key, "attempts", attempts)
			}
			return nil
		})
		if attempts >= maxAttempts {
			outcome = errExhausted
		} else {
			outcome = errMismatch
		}
		return err
	}

	for i := 0; i < checkRetries; i++ {
		err := s.client.Watch(ctx, check, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("check otp challenge: %w", err)
		}
		return outcome
	}
	return fmt.Errorf("check otp challenge: %w", redis.TxFailedErr)
}
