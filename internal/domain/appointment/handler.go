package appointment

import (
	"net/http"
	"time"

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
	api.POST("/appointments", h.Book)
	api.GET("/appointments", h.List)
	api.GET("/appointments/availability", h.Availability)
	api.GET("/appointments/:id", h.Get)
	api.PUT("/appointments/:id", h.Reschedule)
	api.PATCH("/appointments/:id/status", h.UpdateStatus)
}

func (h *Handler) Book(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	a, err := h.svc.Book(c.Request().Context(), callerID, req)
	if err != nil {
		return err
	}
	return respond.Created(c, a)
}

func (h *Handler) List(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)

	appointments, total, err := h.svc.List(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, pagination.NewResponse(appointments, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid appointment id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}

	a, err := h.svc.Get(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid appointment id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	a, err := h.svc.Reschedule(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id, req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid appointment id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	a, err := h.svc.UpdateStatus(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id, req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, a)
}

func (h *Handler) Availability(c echo.Context) error {
	if _, err := auth.CallerID(c.Request().Context()); err != nil {
		return err
	}
	doctorID, err := uuid.Parse(c.QueryParam("doctor_id"))
	if err != nil {
		return respond.BadRequest("doctor_id is required")
	}

	schedule, err := h.svc.Availability(c.Request().Context(), doctorID, c.QueryParam("date"))
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, schedule)
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	if status := c.QueryParam("status"); status != "" {
		if !ValidStatus(status) {
			return f, respond.BadRequest("unknown status %q", status)
		}
		f.Status = status
	}
	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, respond.BadRequest("invalid doctor_id")
		}
		f.DoctorID = id
	}
	if raw := c.QueryParam("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, respond.BadRequest("from must be an RFC 3339 timestamp")
		}
		f.From = ts
	}
	if raw := c.QueryParam("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, respond.BadRequest("to must be an RFC 3339 timestamp")
		}
		f.To = ts
	}
	return f, nil
}
