// Package api exposes the client core over a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"wayleave/internal/admin"
	"wayleave/internal/auth"
	"wayleave/internal/backend"
	"wayleave/internal/monitoring"
	"wayleave/internal/notifications"
	"wayleave/internal/records"
	"wayleave/internal/validator"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// FileSource serves stored attachments by path.
type FileSource interface {
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	logger  *slog.Logger
	auth    *auth.Manager
	records *records.Repository
	admin   *admin.Service
	bus     *notifications.Bus

	files       FileSource
	pinger      Pinger
	serviceName string
	loginMax    int
	loginWindow time.Duration
}

type Option func(*Server)

func WithFiles(files FileSource) Option {
	return func(s *Server) { s.files = files }
}

func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithTracing wraps every request in a span named after serviceName.
func WithTracing(serviceName string) Option {
	return func(s *Server) { s.serviceName = serviceName }
}

// WithLoginLimit bounds sign-in requests per client IP.
func WithLoginLimit(max int, window time.Duration) Option {
	return func(s *Server) {
		s.loginMax = max
		s.loginWindow = window
	}
}

func NewServer(logger *slog.Logger, authManager *auth.Manager, repo *records.Repository, adminService *admin.Service, bus *notifications.Bus, opts ...Option) *Server {
	s := &Server{
		logger:  logger,
		auth:    authManager,
		records: repo,
		admin:   adminService,
		bus:     bus,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewApp builds a Fiber app with every route registered.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "wayleave",
		ErrorHandler: s.errorHandler,
		BodyLimit:    maxUploadSize + 1024*1024,
	})
	s.Register(app)
	return app
}

func (s *Server) Register(app *fiber.App) {
	app.Use(recover.New())
	app.Use(securityHeaders())
	app.Use(requestLogger(s.logger))
	if s.serviceName != "" {
		app.Use(monitoring.FiberMiddleware(s.serviceName))
	}

	app.Get("/health", s.Health)
	app.Get("/files/*", s.ServeFile)

	api := app.Group("/api")

	loginHandlers := []fiber.Handler{s.Login}
	if s.loginMax > 0 {
		loginLimiter := limiter.New(limiter.Config{
			Max:        s.loginMax,
			Expiration: s.loginWindow,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"success": false,
					"error":   auth.MsgTooManyAttempts,
				})
			},
		})
		loginHandlers = append([]fiber.Handler{loginLimiter}, loginHandlers...)
	}
	api.Post("/session", loginHandlers...)
	api.Get("/session", s.CurrentSession)
	api.Delete("/session", s.Logout)
	api.Get("/permissions", s.Permissions)

	api.Get("/records", s.ListRecords)
	api.Post("/records", s.CreateRecord)
	api.Get("/records/:id", s.GetRecord)
	api.Put("/records/:id", s.UpdateRecord)
	api.Delete("/records/:id", s.DeleteRecord)
	api.Post("/records/:id/attachments", s.UploadAttachment)

	api.Get("/toasts", s.Toasts)
	api.Get("/notifications", s.Notifications)
	api.Post("/notifications/read", s.MarkNotificationsRead)

	api.Get("/admin/users", s.ListUsers)
	api.Put("/admin/users/:id/role", s.UpdateUserRole)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// fail maps a core error onto a status code. The message is the one the
// user already saw as a toast.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := err.Error()

	switch {
	case validator.IsValidation(err):
		status, msg = fiber.StatusBadRequest, validator.Message(err)
	case errors.Is(err, records.ErrNotAuthenticated):
		status = fiber.StatusUnauthorized
	case errors.Is(err, admin.ErrForbidden), errors.Is(err, admin.ErrProtectedRole):
		status = fiber.StatusForbidden
	case errors.Is(err, records.ErrRecordNotFound), errors.Is(err, admin.ErrUserNotFound), errors.Is(err, backend.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, backend.ErrNotConfigured):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func forbidden(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": msg})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": records.MsgNotAuthenticated})
}

func (s *Server) Health(c *fiber.Ctx) error {
	if s.pinger != nil {
		if err := s.pinger.Ping(c.UserContext()); err != nil {
			s.logger.Error("Database connection failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "unhealthy",
				"message": "Database connection failed",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"session": s.auth.State().String(),
	})
}
