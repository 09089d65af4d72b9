// Package server assembles the HTTP surface of the login service.
package server

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/config"
	"github.com/ehr/ehrlogin/internal/domain/login"
	"github.com/ehr/ehrlogin/internal/platform/auth"
	"github.com/ehr/ehrlogin/internal/platform/db"
	"github.com/ehr/ehrlogin/internal/platform/metrics"
	"github.com/ehr/ehrlogin/internal/platform/middleware"
)

// Deps are the long-lived components the routes are built on. Pool and
// Metrics are optional.
type Deps struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Service *login.Service
	Issuer  *auth.Issuer
	Pool    *pgxpool.Pool
	Metrics *metrics.Metrics
}

// New returns an echo instance with the global middleware chain, the
// health probes and the /api/v1 login routes.
func New(d Deps) *echo.Echo {
	cfg := d.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.Logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Pool != nil {
		e.GET("/health/db", db.HealthHandler(d.Pool))
	}
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.LoginRateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.LoginRateLimitRPS
	}
	if cfg.LoginRateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.LoginRateLimitBurst
	}

	apiV1 := e.Group("/api/v1")
	login.NewHandler(d.Service, d.Issuer, d.Logger).RegisterRoutes(apiV1, middleware.RateLimit(rateLimitCfg))

	return e
}
