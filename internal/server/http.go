package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/astrodesk/sessiongate/internal/cache"
	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/astrodesk/sessiongate/internal/database"
	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/logging"
	"github.com/astrodesk/sessiongate/internal/migrations"
	"github.com/astrodesk/sessiongate/internal/telemetry"
	"github.com/astrodesk/sessiongate/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// NewApp builds the Fiber app with its middleware chain and every route
// mounted behind the guard.
func NewApp(cfg *config.Config, env *config.Environment, deps Deps) (*fiber.App, *Components, error) {
	components, err := Build(cfg, deps)
	if err != nil {
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: utils.ErrorHandler,
	})

	app.Use(helmet.New())
	app.Use(requestid.New())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit.Max,
		Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.ErrorResponse(c, utils.ErrTooManyRequest)
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Session-Id",
		ExposeHeaders: "Content-Length",
		MaxAge:        3600,
	}))

	SetupRoutes(app, cfg, env, components)
	return app, components, nil
}

// Start connects the backing stores, runs migrations and serves until the
// process receives SIGINT or SIGTERM.
func Start(cfg *config.Config, env *config.Environment) error {
	log := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: os.Stdout,
	})
	logging.SetDefault(log)
	ctx := context.Background()
	log.Info(ctx, "Environment loaded", "environment", env.Environment.String())
	if env.DevIssuerEnabled(cfg) {
		log.Warn(ctx, "Development token issuer is mounted", "route", "/v1/dev/token")
	}

	tp, err := telemetry.NewProvider(ctx, &cfg.Telemetry)
	if err != nil {
		log.Error(ctx, "Failed to set up telemetry", "error", err)
		return err
	}
	tp.SetGlobal()
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn(ctx, "Telemetry shutdown failed", "error", err)
		}
	}()

	db, err := database.ConnectDB(&cfg.Database)
	if err != nil {
		log.Error(ctx, "Failed to connect to database", "error", err)
		return err
	}
	defer database.Close(db)

	if err := migrations.RunMigrations(cfg); err != nil {
		log.Error(ctx, "Failed to run migrations", "error", err)
		return err
	}
	log.Info(ctx, "Migrations completed successfully")

	rdb, err := cache.ConnectRedis(&cfg.Redis)
	if err != nil {
		log.Error(ctx, "Failed to connect to Redis", "error", err)
		return err
	}
	defer rdb.Close()

	app, components, err := NewApp(cfg, env, Deps{
		DB:     db,
		Redis:  rdb,
		Logger: log,
		Meter:  tp.MeterProvider,
	})
	if err != nil {
		log.Error(ctx, "Failed to build application", "error", err)
		return err
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go session.RunSweeper(sweepCtx, components.Sessions, cfg.Session.SweepInterval, log)

	errCh := make(chan error, 1)
	addr := cfg.Server.Address()
	go func() {
		log.Info(ctx, "Server starting",
			"address", addr,
			"app", cfg.App.Name,
			"version", cfg.App.Version,
		)
		errCh <- app.Listen(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "Failed to start server", "error", err)
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case sig := <-sigCh:
		log.Info(ctx, "Shutting down", "signal", sig.String())
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error(ctx, "Graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
