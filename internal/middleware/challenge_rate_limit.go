package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// ChallengeRateLimit limits challenge issuance per contact value (or IP when
// the body carries none) using Redis if available. This sits in front of the
// coordinator's own per-claim cooldown to blunt enumeration of the provider.
func ChallengeRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		var req struct {
			Value   string `json:"value"`
			ClaimID string `json:"claim_id"`
		}
		_ = c.BodyParser(&req)
		key := strings.TrimSpace(req.Value)
		if key == "" {
			key = strings.TrimSpace(req.ClaimID)
		}
		if key == "" {
			key = c.IP()
		}
		key = "rl:challenge:" + key
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many challenge requests, try again later")
		}
		return c.Next()
	}
}
