package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medapp/medapp/internal/platform/envelope"
)

// responseStatus is the status the client will see. A returned error has
// not been rendered yet when middleware observes it.
func responseStatus(c echo.Context, err error) int {
	if err != nil {
		code, _ := envelope.Resolve(err)
		return code
	}
	return c.Response().Status
}

// Logger writes one zerolog event per request: info for success, warn for
// client errors, error for server errors.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			status := responseStatus(c, v.Error)

			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(v.Error)
			case v.Error != nil:
				evt = logger.Warn().Err(v.Error)
			}

			rid, _ := c.Get("request_id").(string)
			evt.
				Str("request_id", rid).
				Str("method", v.Method).
				Str("path", v.URIPath).
				Str("route", v.RoutePath).
				Int("status", status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
