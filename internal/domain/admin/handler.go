package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/domain/user"
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

// RegisterRoutes registers the admin endpoints. The group is expected to be
// guarded by RequireRole(ADMIN).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/admin/users", h.ListUsers)
	g.PATCH("/admin/users/:id/role", h.SetRole)
	g.PATCH("/admin/users/:id/active", h.SetActive)
	g.POST("/admin/notifications/broadcast", h.Broadcast)
	g.GET("/admin/stats", h.Overview)
	g.GET("/analytics/overview", h.Overview)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	f := user.Filter{
		Query: c.QueryParam("q"),
		Role:  strings.ToUpper(c.QueryParam("role")),
	}
	if active := c.QueryParam("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			return respond.BadRequest("active must be true or false")
		}
		f.Active = &b
	}

	users, total, err := h.svc.ListUsers(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) SetRole(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}
	var req RoleRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	u, err := h.svc.SetRole(c.Request().Context(), callerID, id, req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, u)
}

func (h *Handler) SetActive(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}
	var req ActiveRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	u, err := h.svc.SetActive(c.Request().Context(), callerID, id, req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, u)
}

func (h *Handler) Broadcast(c echo.Context) error {
	var req BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	result, err := h.svc.Broadcast(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, result)
}

func (h *Handler) Overview(c echo.Context) error {
	overview, err := h.svc.Overview(c.Request().Context())
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, overview)
}

func (h *Handler) params(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, respond.BadRequest("invalid user id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return id, callerID, nil
}
