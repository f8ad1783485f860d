package user

import (
	"net/http"
	"strconv"

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
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/sync", h.Sync)
	api.GET("/auth/me", h.Me)

	api.GET("/users", h.ListUsers, auth.RequireRole(auth.RoleProvider))
	api.GET("/users/doctors", h.ListDoctors)
	api.GET("/users/:id", h.GetUser)
	api.PUT("/users/:id", h.UpdateUser)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}
	resp, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond.Created(c, resp)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}
	resp, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, resp)
}

func (h *Handler) Sync(c echo.Context) error {
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return respond.Unauthorized("missing credentials")
	}
	u, err := h.svc.Sync(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, u)
}

func (h *Handler) Me(c echo.Context) error {
	id, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	u, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid user id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	role := auth.RoleFromContext(c.Request().Context())

	u, err := h.svc.GetAuthorized(c.Request().Context(), callerID, role, id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid user id")
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	role := auth.RoleFromContext(c.Request().Context())

	u, err := h.svc.Update(c.Request().Context(), callerID, role, id, req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{
		Query: c.QueryParam("q"),
		Role:  c.QueryParam("role"),
	}
	if active := c.QueryParam("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			return respond.BadRequest("active must be true or false")
		}
		f.Active = &b
	}

	users, total, err := h.svc.List(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) ListDoctors(c echo.Context) error {
	doctors, err := h.svc.Providers(c.Request().Context())
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, doctors)
}
