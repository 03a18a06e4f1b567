package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/response"
)

const identityLocalKey = "identity"

// SecurityHeadersMiddleware adds security-related headers to all responses.
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Decrypted file bodies must never land in shared caches.
		c.Set("Cache-Control", "no-store")
		c.Set("Pragma", "no-cache")

		return c.Next()
	}
}

// RequestIDMiddleware propagates or assigns X-Request-ID.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Set("X-Request-ID", requestID)
		c.Locals("request_id", requestID)

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	parts := strings.Fields(c.Get(fiber.HeaderAuthorization))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware resolves the bearer token into a service.Identity, stored in
// both the fiber locals and the request's user context.
func AuthMiddleware(authSvc *service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c)
		if !ok {
			RecordAuthFailure("missing_token")
			return response.Unauthorized(c, "missing or invalid authorization header")
		}

		id, err := authSvc.ValidateToken(token)
		if err != nil {
			RecordAuthFailure("invalid_token")
			return response.Unauthorized(c, "invalid or expired token")
		}

		c.Locals(identityLocalKey, id)
		c.SetUserContext(service.WithIdentity(c.UserContext(), id))
		return c.Next()
	}
}

// AdminMiddleware rejects callers without the admin role.
// Must be chained after AuthMiddleware.
func AdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := identity(c)
		if !ok {
			return response.Unauthorized(c, "authentication required")
		}
		if !id.IsAdmin() {
			return response.Forbidden(c, "admin access required")
		}
		return c.Next()
	}
}

func identity(c *fiber.Ctx) (service.Identity, bool) {
	id, ok := c.Locals(identityLocalKey).(service.Identity)
	if !ok || id.UserID == "" {
		return service.Identity{}, false
	}
	return id, true
}

// BodyLimitMiddleware enforces a per-route body size limit.
func BodyLimitMiddleware(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return response.Error(c, fiber.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.Next()
	}
}
