package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/logger"
	"github.com/secura/vault/pkg/response"
)

type AuthHandler struct {
	authSvc *service.AuthService
}

func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// parseCredentials returns the request body or a message describing why it
// is unusable.
func parseCredentials(c *fiber.Ctx) (credentialsRequest, string) {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return req, "invalid request body"
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return req, "email and password are required"
	}
	return req, ""
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	req, problem := parseCredentials(c)
	if problem != "" {
		return response.BadRequest(c, problem)
	}

	user, token, err := h.authSvc.Register(c.UserContext(), req.Email, req.Password, c.IP())
	if err != nil {
		return respondError(c, err)
	}

	logger.FromContext(c.UserContext()).Info().
		Str("user_id", user.ID).
		Msg("User registered")

	return response.Created(c, AuthResponse{Token: token, User: user})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	req, problem := parseCredentials(c)
	if problem != "" {
		return response.BadRequest(c, problem)
	}

	user, token, err := h.authSvc.Login(c.UserContext(), req.Email, req.Password, c.IP())
	if err != nil {
		return respondError(c, err)
	}

	return response.Success(c, AuthResponse{Token: token, User: user})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	user, err := h.authSvc.GetUser(c.UserContext(), id.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, user)
}
