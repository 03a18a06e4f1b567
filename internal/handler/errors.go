package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/logger"
	"github.com/secura/vault/pkg/response"
)

var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	ErrStorageNotConfigured   = errors.New("blob store not configured")
)

// respondError maps service errors onto HTTP statuses. Anything unrecognised
// is logged and reported as a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		RecordAuthFailure("locked")
		return response.Locked(c, "account temporarily locked, try again later",
			locked.RemainingSeconds(), locked.RemainingMinutes())
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "not found")
	case errors.Is(err, service.ErrIntegrity):
		RecordIntegrityFailure()
		return response.ErrorCode(c, fiber.StatusConflict, "integrity_error",
			"stored file failed integrity verification", nil)
	case errors.Is(err, service.ErrExpired):
		return response.Gone(c, "share link has expired")
	case errors.Is(err, service.ErrForbidden):
		return response.Forbidden(c, "forbidden")
	case errors.Is(err, service.ErrValidation):
		return response.BadRequest(c, validationMessage(err))
	case errors.Is(err, service.ErrRateLimited):
		return response.TooManyRequests(c, service.ErrRateLimited.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		RecordAuthFailure("invalid_credentials")
		return response.Unauthorized(c, "invalid credentials")
	case errors.Is(err, service.ErrEmailTaken):
		return response.Conflict(c, "email already registered")
	}

	logger.FromContext(c.UserContext()).Error().Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("Request failed")
	return response.InternalError(c, "internal server error")
}

// validationMessage strips the sentinel prefix from a wrapped validation error.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
	if msg == "" {
		return service.ErrValidation.Error()
	}
	return msg
}
