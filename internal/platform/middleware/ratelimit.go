package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/medapp/medapp/internal/platform/auth"
)

// RateLimitConfig sizes the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// ExpiresIn drops buckets of idle clients. Zero means three minutes.
	ExpiresIn time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// rateLimitKey buckets authenticated callers by subject and everyone else
// by client IP.
func rateLimitKey(c echo.Context) (string, error) {
	if p := auth.PrincipalFromContext(c.Request().Context()); p != nil && p.Subject != "" {
		return "sub:" + p.Subject, nil
	}
	return "ip:" + c.RealIP(), nil
}

// retryAfterSeconds is how long an empty bucket takes to earn one token.
func retryAfterSeconds(rps float64) int {
	if rps <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/rps)))
}

// RateLimit rejects clients that exceed their bucket with 429 and a
// Retry-After header.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.ExpiresIn,
	})
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := strconv.Itoa(retryAfterSeconds(cfg.RequestsPerSecond))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: rateLimitKey,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client").SetInternal(err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			h := c.Response().Header()
			h.Set("Retry-After", retryAfter)
			h.Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
