package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/response"
)

// SharePathPrefix is where public share links are redeemed.
const SharePathPrefix = "/api/v1/s/"

type ShareHandler struct {
	shareSvc *service.ShareService
}

func NewShareHandler(shareSvc *service.ShareService) *ShareHandler {
	return &ShareHandler{shareSvc: shareSvc}
}

type CreateShareRequest struct {
	// TTLMinutes <= 0 or absent creates a link that never expires.
	TTLMinutes int `json:"ttl_minutes"`
}

type ShareResponse struct {
	*models.ShareLink
	Path string `json:"path"`
}

func shareResponse(link *models.ShareLink) ShareResponse {
	return ShareResponse{ShareLink: link, Path: SharePathPrefix + link.Token}
}

// Create handles POST /files/:id/shares.
func (h *ShareHandler) Create(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var req CreateShareRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}

	link, err := h.shareSvc.Create(c.UserContext(), id.UserID, c.Params("id"), req.TTLMinutes, c.IP())
	if err != nil {
		return respondError(c, err)
	}

	RecordShareCreated()
	return response.Created(c, shareResponse(link))
}

// ListByFile handles GET /files/:id/shares.
func (h *ShareHandler) ListByFile(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	links, err := h.shareSvc.ListByFile(c.UserContext(), id.UserID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	out := make([]ShareResponse, 0, len(links))
	for _, link := range links {
		out = append(out, shareResponse(link))
	}
	return response.Success(c, out)
}

// Revoke handles DELETE /shares/:token.
func (h *ShareHandler) Revoke(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	if err := h.shareSvc.Revoke(c.UserContext(), id.UserID, c.Params("token"), c.IP()); err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{"message": "share link revoked"})
}

// Download handles GET /s/:token. No authentication: the token is the capability.
func (h *ShareHandler) Download(c *fiber.Ctx) error {
	record, plaintext, err := h.shareSvc.Consume(c.UserContext(), c.Params("token"), c.IP())
	if err != nil {
		return respondError(c, err)
	}

	RecordFileDownload("share")
	return sendFile(c, record, plaintext)
}
