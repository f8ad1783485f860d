package message

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
	api.POST("/messages", h.Send)
	api.GET("/messages", h.Thread)
	api.GET("/messages/conversations", h.Conversations)
	api.PATCH("/messages/:id/read", h.MarkRead)
}

func (h *Handler) Send(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	m, err := h.svc.Send(c.Request().Context(), callerID, req)
	if err != nil {
		return err
	}
	return respond.Created(c, m)
}

func (h *Handler) Thread(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	peerID, err := uuid.Parse(c.QueryParam("peer_id"))
	if err != nil {
		return respond.BadRequest("peer_id is required")
	}
	p := pagination.FromContext(c)

	messages, total, err := h.svc.Thread(c.Request().Context(), callerID, peerID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, pagination.NewResponse(messages, total, p.Limit, p.Offset))
}

func (h *Handler) Conversations(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}

	conversations, err := h.svc.Conversations(c.Request().Context(), callerID)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, conversations)
}

func (h *Handler) MarkRead(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respond.BadRequest("invalid message id")
	}

	m, err := h.svc.MarkRead(c.Request().Context(), callerID, id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, m)
}
