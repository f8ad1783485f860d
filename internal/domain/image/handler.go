package image

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
	api.POST("/images", h.Upload)
	api.GET("/images", h.List)
	api.GET("/images/:id", h.Get)
	api.GET("/images/:id/content", h.Content)
	api.PUT("/images/:id", h.Update)
	api.DELETE("/images/:id", h.Delete)
	api.POST("/images/:id/share", h.Share)
	api.DELETE("/images/:id/share/:grantee_id", h.Revoke)
	api.GET("/images/:id/shares", h.Shares)
	api.POST("/images/:id/analyze", h.Analyze)
}

func (h *Handler) Upload(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return respond.BadRequest("file field is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return respond.BadRequest("cannot read uploaded file")
	}
	defer f.Close()

	img, err := h.svc.Upload(c.Request().Context(), callerID, UploadInput{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get(echo.HeaderContentType),
		BodyType:    c.FormValue("body_type"),
		Notes:       c.FormValue("notes"),
		Content:     f,
	})
	if err != nil {
		return err
	}
	return respond.Created(c, img)
}

func (h *Handler) List(c echo.Context) error {
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)

	images, total, err := h.svc.List(c.Request().Context(), callerID,
		c.QueryParam("filter"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, pagination.NewResponse(images, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}

	img, err := h.svc.Get(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, img)
}

func (h *Handler) Content(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}

	img, rc, err := h.svc.Content(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id)
	if err != nil {
		return err
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+img.FileName+`"`)
	return c.Stream(http.StatusOK, img.ContentType, rc)
}

func (h *Handler) Update(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	img, err := h.svc.Update(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id, req)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, img)
}

func (h *Handler) Delete(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}

	if err := h.svc.Delete(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Share(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}
	var req ShareRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest("invalid request body")
	}

	sh, err := h.svc.Share(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id, req)
	if err != nil {
		return err
	}
	return respond.Created(c, sh)
}

func (h *Handler) Revoke(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}
	granteeID, err := uuid.Parse(c.Param("grantee_id"))
	if err != nil {
		return respond.BadRequest("invalid grantee id")
	}

	if err := h.svc.Revoke(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id, granteeID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Shares(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}

	shares, err := h.svc.Shares(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id)
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, shares)
}

func (h *Handler) Analyze(c echo.Context) error {
	id, callerID, err := h.params(c)
	if err != nil {
		return err
	}

	result, err := h.svc.Analyze(c.Request().Context(), callerID,
		auth.RoleFromContext(c.Request().Context()), id, c.QueryParam("provider"))
	if err != nil {
		return err
	}
	return respond.OK(c, http.StatusOK, result)
}

func (h *Handler) params(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, respond.BadRequest("invalid image id")
	}
	callerID, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return id, callerID, nil
}
