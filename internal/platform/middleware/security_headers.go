package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

var secureConfig = echomw.SecureConfig{
	ContentTypeNosniff:    "nosniff",
	XFrameOptions:         "DENY",
	ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	ReferrerPolicy:        "no-referrer",
}

// SecurityHeaders hardens JSON responses. Nothing is cacheable since every
// payload may carry patient data.
func SecurityHeaders() echo.MiddlewareFunc {
	secure := echomw.SecureWithConfig(secureConfig)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return secure(func(c echo.Context) error {
			c.Response().Header().Set("Cache-Control", "no-store")
			return next(c)
		})
	}
}
