package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/logger"
	"github.com/secura/vault/pkg/response"
)

type AdminHandler struct {
	activitySvc *service.ActivityService
	fileSvc     *service.FileService
	shareSvc    *service.ShareService
}

func NewAdminHandler(activitySvc *service.ActivityService, fileSvc *service.FileService, shareSvc *service.ShareService) *AdminHandler {
	return &AdminHandler{activitySvc: activitySvc, fileSvc: fileSvc, shareSvc: shareSvc}
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	id, _ := identity(c)
	users, err := h.activitySvc.ListUsers(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, users)
}

// Audit handles GET /admin/audit?limit=N.
func (h *AdminHandler) Audit(c *fiber.Ctx) error {
	id, _ := identity(c)
	events, err := h.activitySvc.ListAll(c.UserContext(), id, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, events)
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	total, err := h.fileSvc.TotalStored(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	UpdateStorageUsed(total)
	return response.Success(c, fiber.Map{"storage_used_bytes": total})
}

// Cleanup handles POST /admin/cleanup and purges expired share links now.
func (h *AdminHandler) Cleanup(c *fiber.Ctx) error {
	id, _ := identity(c)
	purged, err := h.shareSvc.DeleteExpired(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	logger.Audit("admin_cleanup", id.UserID, map[string]string{
		"ip": c.IP(),
	})
	return response.Success(c, fiber.Map{"expired_shares_deleted": purged})
}
