package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harvestloop/harvestloop/internal/apperrors"
	"github.com/harvestloop/harvestloop/internal/config"
	"github.com/harvestloop/harvestloop/internal/middleware"
	"github.com/harvestloop/harvestloop/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
	logger   *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	return NewWithDeps(routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, AccessLog: true})
}

// NewWithDeps is New with full control over the route dependencies.
func NewWithDeps(d routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: !d.Cfg.IsDev(),
		ErrorHandler:          ErrorHandler(d.Logger),
	})

	services, err := routes.Setup(app, d)
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: d.Cfg, services: services, logger: d.Logger}, nil
}

// ErrorHandler renders handler errors as {"message": ...}. Internal failures
// are logged with the request id and reported generically.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := middleware.StatusOf(err)
		message := apperrors.PublicMessage(err)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			message = fe.Message
		}
		if status >= fiber.StatusInternalServerError && logger != nil {
			logger.Error("request failed",
				slog.String("request_id", middleware.RequestIDFrom(c)),
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}

		body := fiber.Map{"message": message}
		if apperrors.Retryable(err) {
			body["retry"] = true
		}
		return c.Status(status).JSON(body)
	}
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Services exposes the wired domain services.
func (s *Server) Services() *routes.Services {
	return s.services
}

// RunBackground starts periodic maintenance until ctx is cancelled.
func (s *Server) RunBackground(ctx context.Context) {
	if s.cfg.ExpirySweep <= 0 {
		return
	}
	s.services.Subscriptions.RunExpiry(ctx, s.cfg.ExpirySweep)
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
