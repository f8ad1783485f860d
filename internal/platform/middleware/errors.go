package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/platform/respond"
)

// ErrorHandler returns the centralized echo.HTTPErrorHandler. Every error
// escaping a handler funnels through here and is serialized to the
// {"status":"error","error":...} envelope:
//
//   - *respond.AppError (anywhere in the chain) keeps its message and status
//   - *echo.HTTPError (from echo internals, e.g. 404 on unknown routes) keeps
//     its code
//   - anything else is logged with its cause and served as a generic 500
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		if appErr, ok := respond.AsAppError(err); ok {
			status = appErr.Status
			message = appErr.Message
		} else if httpErr, ok := err.(*echo.HTTPError); ok {
			status = httpErr.Code
			message = fmt.Sprintf("%v", httpErr.Message)
		} else {
			rid, _ := c.Get("request_id").(string)
			logger.Error().
				Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			if werr := c.NoContent(status); werr != nil {
				logger.Error().Err(werr).Msg("write error response")
			}
			return
		}

		if werr := respond.Err(c, status, message); werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
