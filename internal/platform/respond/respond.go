// Package respond defines the JSON response envelopes used by every REST
// endpoint and the application error type the centralized error handler
// understands. Success bodies are {"status":"success","data":...}; errors are
// {"status":"error","error":"..."} with the HTTP status carried by the error.
package respond

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// AppError is the single tagged application error: a user-facing message plus
// the HTTP status it should be served with. Services and handlers return it
// (directly or wrapped) and the error handler middleware serializes it.
type AppError struct {
	Message string
	Status  int
}

func (e *AppError) Error() string {
	return e.Message
}

// NewError builds an AppError with an arbitrary status code.
func NewError(status int, format string, args ...interface{}) *AppError {
	return &AppError{Message: fmt.Sprintf(format, args...), Status: status}
}

// BadRequest tags a validation failure (400).
func BadRequest(format string, args ...interface{}) *AppError {
	return NewError(http.StatusBadRequest, format, args...)
}

// Unauthorized tags a missing or invalid credential (401).
func Unauthorized(format string, args ...interface{}) *AppError {
	return NewError(http.StatusUnauthorized, format, args...)
}

// Forbidden tags a role or ownership denial (403).
func Forbidden(format string, args ...interface{}) *AppError {
	return NewError(http.StatusForbidden, format, args...)
}

// NotFound tags a missing resource (404).
func NotFound(format string, args ...interface{}) *AppError {
	return NewError(http.StatusNotFound, format, args...)
}

// Conflict tags a state collision such as an overlapping appointment or a
// duplicate unique value (409).
func Conflict(format string, args ...interface{}) *AppError {
	return NewError(http.StatusConflict, format, args...)
}

// Internal tags an unexpected failure (500).
func Internal(format string, args ...interface{}) *AppError {
	return NewError(http.StatusInternalServerError, format, args...)
}

// AsAppError unwraps err looking for an *AppError anywhere in its chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Envelope is the success wrapper.
type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

// ErrorEnvelope is the failure wrapper.
type ErrorEnvelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// OK writes the success envelope with the given HTTP status.
func OK(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Status: "success", Data: data})
}

// Created is shorthand for OK with 201.
func Created(c echo.Context, data interface{}) error {
	return OK(c, http.StatusCreated, data)
}

// Err writes the error envelope. Normally only the error handler middleware
// calls this; handlers should return errors instead.
func Err(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorEnvelope{Status: "error", Error: message})
}
