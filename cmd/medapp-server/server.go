package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medapp/medapp/internal/config"
	"github.com/medapp/medapp/internal/domain/care"
	"github.com/medapp/medapp/internal/platform/auth"
	"github.com/medapp/medapp/internal/platform/db"
	"github.com/medapp/medapp/internal/platform/envelope"
	"github.com/medapp/medapp/internal/platform/middleware"
)

const version = "0.1.0"

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, err := newServer(cfg, logger, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with every middleware and route.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = envelope.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	if cfg.MetricsEnabled {
		metrics := middleware.NewMetrics()
		if err := db.RegisterPoolMetrics(metrics.Registerer(), pool); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
		e.Use(metrics.Middleware())
		e.GET("/metrics", metrics.Handler())
	}

	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Auth middleware
	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	e.Use(authMW)

	if cfg.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimitRPS
		if cfg.RateLimitBurst > 0 {
			rl.BurstSize = cfg.RateLimitBurst
		}
		e.Use(middleware.RateLimit(rl))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return envelope.OK(c, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Care domain
	svc := care.NewService(db.NewTxManager(pool), care.NewPGRepositories(pool), logger)
	care.NewHandler(svc, auth.NewGate(cfg.RequireReadScopes)).RegisterRoutes(e.Group(""))

	return e, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch mode := cfg.ResolvedAuthMode(); mode {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware(), nil
	case config.AuthModeStandalone:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}), nil
	case config.AuthModeExternal:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  auth.ResolveJWKSURL(cfg.AuthJWKSURL, cfg.AuthIssuer),
			Skipper:  auth.AuthSkipper,
		}), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
