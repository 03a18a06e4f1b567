package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/response"
)

type ActivityHandler struct {
	activitySvc *service.ActivityService
}

func NewActivityHandler(activitySvc *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activitySvc: activitySvc}
}

// List handles GET /activity?limit=N.
func (h *ActivityHandler) List(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	events, err := h.activitySvc.ListForUser(c.UserContext(), id.UserID, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, events)
}

// Summary handles GET /activity/summary.
func (h *ActivityHandler) Summary(c *fiber.Ctx) error {
	id, ok := identity(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	summary, err := h.activitySvc.Summary(c.UserContext(), id.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, summary)
}
