package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/config"
	"github.com/ehr/patientflow/internal/domain/admission"
	"github.com/ehr/patientflow/internal/domain/encounter"
	"github.com/ehr/patientflow/internal/domain/queue"
	"github.com/ehr/patientflow/internal/domain/resource"
	"github.com/ehr/patientflow/internal/platform/auth"
	"github.com/ehr/patientflow/internal/platform/db"
	"github.com/ehr/patientflow/internal/platform/events"
	"github.com/ehr/patientflow/internal/platform/middleware"
	"github.com/ehr/patientflow/internal/platform/websocket"
)

// app holds the wired services behind one HTTP server.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	resources  *resource.Service
	encounters *encounter.Service
	queues     *queue.Service
	admissions *admission.Service
	hub        *websocket.Hub

	echo *echo.Echo
}

// newApp connects the configured store and wires the four components. The
// encounter store publishes every status change to the event bus, which
// feeds the live queue board and, when REDIS_URL is set, the billing channel.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var (
		resRepo resource.Repository
		encRepo encounter.Repository
		tx      db.Transactor
	)
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, db.PoolOptions{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		resRepo = resource.NewRepoPG(pool)
		encRepo = encounter.NewRepoPG(pool)
		tx = db.NewPGTransactor(pool)
		logger.Info().Msg("connected to database")
	} else {
		resRepo = resource.NewMemoryRepo()
		encRepo = encounter.NewMemoryRepo()
		tx = db.NewMemoryTransactor()
		logger.Warn().Msg("using in-memory store; state is lost on restart")
	}

	a.resources = resource.NewService(resRepo, tx, logger)
	a.encounters = encounter.NewService(encRepo, tx, a.resources, logger)
	a.encounters.SetNoShowTimeout(cfg.NoShowTimeout)
	a.resources.SetEncounterLinker(a.encounters)
	a.queues = queue.NewService(a.encounters, logger)
	a.admissions = admission.NewService(a.encounters, a.resources, tx, logger)

	a.hub = websocket.NewHub(logger)
	bus := events.NewBus(logger)
	bus.Attach("queue_board", queue.NewBoard(a.queues, a.hub, logger))
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
		bus.Attach("redis", events.NewRedisPublisher(client, cfg.RedisChannel))
		logger.Info().Str("channel", cfg.RedisChannel).Msg("publishing status changes to redis")
	}
	a.encounters.SetPublisher(bus)

	a.echo = a.routes()
	return a, nil
}

func (a *app) routes() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", middleware.RequestIDHeader, auth.DevRolesHeader},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	var authz auth.Authorizer = auth.DefaultRolePolicy()
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(e)

	api := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	resource.NewHandler(a.resources, authz).RegisterRoutes(api)
	encounter.NewHandler(a.encounters, authz).RegisterRoutes(api)
	queue.NewHandler(a.queues).RegisterRoutes(api)
	admission.NewHandler(a.admissions, authz).RegisterRoutes(api)
	return e
}

// runSweeper marks overdue appointments as no-shows every interval until ctx
// is done.
func (a *app) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.encounters.SweepNoShows(auth.WithUser(ctx, "no-show-sweeper", nil)); err != nil {
				a.logger.Error().Err(err).Msg("no-show sweep failed")
			}
		}
	}
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) addr() string {
	return fmt.Sprintf(":%s", a.cfg.Port)
}
