package notification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
	"github.com/radshare/radshare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.PATCH("/notifications/read-all", h.ReadAll)
	api.PATCH("/notifications/:id/read", h.MarkRead)
	api.DELETE("/notifications/:id", h.Delete)
}

func (h *Handler) List(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	unreadOnly := c.QueryParam("unread") == "true"

	notifications, total, err := h.svc.List(c.Request().Context(), callerID, unreadOnly, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, pagination.NewResponse(notifications, total, p.Limit, p.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid notification id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}

	n, err := h.svc.MarkRead(c.Request().Context(), callerID, id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, n)
}

func (h *Handler) ReadAll(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	updated, err := h.svc.MarkAllRead(c.Request().Context(), callerID)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid notification id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}

	if err := h.svc.Delete(c.Request().Context(), callerID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
