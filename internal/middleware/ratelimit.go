package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig describes a fixed-window limiter.
type RateLimitConfig struct {
	Name    string
	Max     int
	Window  time.Duration
	Message string
	// Key extracts the bucket for a request. Empty keys fall back to the client IP.
	Key func(c *fiber.Ctx) string
}

// RateLimit counts requests per key in Redis. It fails open when Redis is
// absent or erroring.
func RateLimit(cache *redis.Client, cfg RateLimitConfig, logger *slog.Logger) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests, try again later"
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		bucket := ""
		if cfg.Key != nil {
			bucket = strings.ToLower(strings.TrimSpace(cfg.Key(c)))
		}
		if bucket == "" {
			bucket = c.IP()
		}
		key := fmt.Sprintf("rl:%s:%s", cfg.Name, bucket)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("limiter", cfg.Name), slog.Any("error", err))
			}
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, cfg.Window)
		}
		if cnt > int64(cfg.Max) {
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, cfg.Message)
		}
		return c.Next()
	}
}

// EmailKey buckets by the "email" field of a JSON body.
func EmailKey(c *fiber.Ctx) string {
	var req struct {
		Email string `json:"email"`
	}
	_ = c.BodyParser(&req)
	return req.Email
}
