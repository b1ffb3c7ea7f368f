package auth

import (
	"github.com/labstack/echo/v4"
)

// IsPublicPath reports whether a registered route serves probes or scrapes
// and therefore never carries a principal.
func IsPublicPath(route string) bool {
	switch route {
	case "/health", "/health/db", "/metrics":
		return true
	}
	return false
}

// AuthSkipper matches on the route path, not the raw URL, so /health?x=1
// is skipped and /health/extra is not.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}
