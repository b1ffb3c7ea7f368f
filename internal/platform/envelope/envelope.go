// Package envelope renders every API response in the uniform
//
//	{"status": "success", "data": ...}
//	{"status": "error", "code": <int>, "message": <string>}
//
// shapes. ErrorHandler is installed as echo's HTTPErrorHandler so that errors
// returned by any handler or middleware end up in the same form.
package envelope

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medapp/medapp/internal/platform/apperr"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Success struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

type Failure struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OK writes data wrapped in the success envelope.
func OK(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, Success{Status: StatusSuccess, Data: data})
}

// Fail builds the error envelope for code with message.
func Fail(code int, message string) Failure {
	return Failure{Status: StatusError, Code: code, Message: message}
}

// Resolve maps any error to the status code and client-visible message it
// should be rendered with.
func Resolve(err error) (int, string) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Status(), appErr.PublicMessage()
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code := httpErr.Code
		if code >= http.StatusInternalServerError {
			return code, http.StatusText(code)
		}
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			return code, msg
		}
		return code, http.StatusText(code)
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// ErrorHandler returns an echo.HTTPErrorHandler rendering the error envelope.
// Server faults are logged with their cause; the client only sees a generic
// message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, message := Resolve(err)
		if code >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, Fail(code, message))
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
