package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// CallbackRateLimit throttles gateway callback deliveries per authority token
// (falling back to client IP) using Redis when available. Gateways are known
// to retry aggressively; the limit keeps duplicate storms off the database.
func CallbackRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		var req struct {
			Authority string `json:"authority"`
		}
		_ = c.BodyParser(&req)
		key := strings.TrimSpace(req.Authority)
		if key == "" {
			key = c.IP()
		}
		redisKey := "rl:callback:" + key
		cnt, err := cache.Incr(c.UserContext(), redisKey).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), redisKey, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many callback deliveries, slow down")
		}
		return c.Next()
	}
}
