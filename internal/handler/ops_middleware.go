package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/pkg/response"
)

// BearerTokenMiddleware protects an operator endpoint with a static token.
// An empty token disables the endpoint.
func BearerTokenMiddleware(expectedToken string) fiber.Handler {
	expected := []byte(strings.TrimSpace(expectedToken))

	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return response.Forbidden(c, "endpoint is disabled")
		}

		provided, ok := bearerToken(c)
		if !ok {
			return response.Unauthorized(c, "missing or invalid authorization header")
		}
		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			return response.Unauthorized(c, "invalid authorization token")
		}

		return c.Next()
	}
}
