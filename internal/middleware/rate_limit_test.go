package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func setupRateLimitApp(t *testing.T, maxPerMin int) (*fiber.App, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	app.Post("/callback", CallbackRateLimit(cache, maxPerMin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, cleanup
}

func postCallback(t *testing.T, app *fiber.App, authority string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/callback", strings.NewReader(`{"authority":"`+authority+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestCallbackRateLimitThrottlesPerAuthority(t *testing.T) {
	app, cleanup := setupRateLimitApp(t, 3)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if status := postCallback(t, app, "AUTH1"); status != fiber.StatusOK {
			t.Fatalf("delivery %d: expected 200 got %d", i+1, status)
		}
	}

	if status := postCallback(t, app, "AUTH1"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 over limit, got %d", status)
	}

	// a different authority has its own budget
	if status := postCallback(t, app, "AUTH2"); status != fiber.StatusOK {
		t.Fatalf("expected 200 for fresh authority, got %d", status)
	}
}

func TestCallbackRateLimitWithoutCacheIsNoop(t *testing.T) {
	app := fiber.New()
	app.Post("/callback", CallbackRateLimit(nil, 1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 5; i++ {
		if status := postCallback(t, app, "AUTH1"); status != fiber.StatusOK {
			t.Fatalf("expected no-op limiter to pass, got %d", status)
		}
	}
}
