package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/response"
)

// KeyFunc extracts a rate-limiting key from a request.
type KeyFunc func(c *fiber.Ctx) string

// IPKey limits by client address.
func IPKey(c *fiber.Ctx) string {
	return c.IP()
}

// IPAndUserKey combines the client address with the authenticated user so
// distinct users behind one address do not share a budget.
func IPAndUserKey(c *fiber.Ctx) string {
	if id, ok := identity(c); ok {
		return c.IP() + ":" + id.UserID
	}
	return c.IP()
}

// RateLimitMiddleware counts requests per key through the guard's counter
// store and rejects them with 429 once limit is exceeded within window.
func RateLimitMiddleware(guard *service.LoginGuard, action string, limit int, window time.Duration, keyFunc KeyFunc) fiber.Handler {
	if keyFunc == nil {
		keyFunc = IPKey
	}
	return func(c *fiber.Ctx) error {
		if !guard.Allow(c.UserContext(), action, keyFunc(c), limit, window) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window/time.Second)))
			return response.TooManyRequests(c, service.ErrRateLimited.Error())
		}
		return c.Next()
	}
}
