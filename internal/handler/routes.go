package handler

import (
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/secura/vault/internal/blob"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/logger"
)

const jsonBodyLimit = 1 * 1024 * 1024

// Services are the collaborators the HTTP layer calls into.
type Services struct {
	DB       *sql.DB
	Blobs    blob.Store
	Auth     *service.AuthService
	Files    *service.FileService
	Shares   *service.ShareService
	Activity *service.ActivityService
	Guard    *service.LoginGuard
}

// AppOptions configures the fiber application.
type AppOptions struct {
	MaxUploadBytes     int
	AllowOrigins       string
	TrustedProxies     []string
	ShareDownloadLimit int
	RateWindow         time.Duration
	MetricsEnabled     bool
	// MetricsToken protects /metrics when set.
	MetricsToken string
}

// NewApp builds the fiber application with middleware and routes.
func NewApp(opts AppOptions, svc Services) *fiber.App {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 * 1024 * 1024
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.ShareDownloadLimit <= 0 {
		opts.ShareDownloadLimit = 30
	}

	cfg := fiber.Config{
		// Multipart framing adds a little on top of the file itself.
		BodyLimit:             opts.MaxUploadBytes + jsonBodyLimit,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	}
	// X-Forwarded-For is honoured only from configured proxies; rate limits
	// and audit records key on the client address.
	if len(opts.TrustedProxies) > 0 {
		cfg.ProxyHeader = fiber.HeaderXForwardedFor
		cfg.EnableTrustedProxyCheck = true
		cfg.TrustedProxies = opts.TrustedProxies
		cfg.EnableIPValidation = true
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
	app.Use(SecurityHeadersMiddleware())
	app.Use(RequestIDMiddleware())
	app.Use(MetricsMiddleware())
	if opts.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, DELETE, OPTIONS",
			MaxAge:       3600,
		}))
	}
	app.Use(logger.Middleware())

	registerRoutes(app, opts, svc)
	return app
}

func registerRoutes(app *fiber.App, opts AppOptions, svc Services) {
	authHandler := NewAuthHandler(svc.Auth)
	fileHandler := NewFileHandler(svc.Files)
	shareHandler := NewShareHandler(svc.Shares)
	activityHandler := NewActivityHandler(svc.Activity)
	adminHandler := NewAdminHandler(svc.Activity, svc.Files, svc.Shares)
	healthHandler := NewHealthHandler(svc.DB, svc.Blobs)

	jsonLimit := BodyLimitMiddleware(jsonBodyLimit)
	requireAuth := AuthMiddleware(svc.Auth)

	api := app.Group("/api/v1")

	// Register and login are rate limited inside AuthService.
	auth := api.Group("/auth")
	auth.Post("/register", jsonLimit, authHandler.Register)
	auth.Post("/login", jsonLimit, authHandler.Login)
	auth.Get("/me", requireAuth, authHandler.Me)

	files := api.Group("/files", requireAuth)
	files.Post("/", fileHandler.Upload)
	files.Get("/", fileHandler.List)
	files.Get("/:id", fileHandler.Get)
	files.Get("/:id/download", fileHandler.Download)
	files.Get("/:id/versions", fileHandler.Versions)
	files.Post("/:id/shares", jsonLimit, shareHandler.Create)
	files.Get("/:id/shares", shareHandler.ListByFile)

	api.Delete("/shares/:token", requireAuth, shareHandler.Revoke)
	api.Get("/s/:token",
		RateLimitMiddleware(svc.Guard, service.ActionShareDownload, opts.ShareDownloadLimit, opts.RateWindow, IPKey),
		shareHandler.Download)

	activity := api.Group("/activity", requireAuth)
	activity.Get("/", activityHandler.List)
	activity.Get("/summary", activityHandler.Summary)

	admin := api.Group("/admin", requireAuth, AdminMiddleware())
	admin.Get("/users", adminHandler.ListUsers)
	admin.Get("/audit", adminHandler.Audit)
	admin.Get("/stats", adminHandler.Stats)
	admin.Post("/cleanup", adminHandler.Cleanup)

	app.Get("/health", healthHandler.Liveness)
	app.Get("/health/ready", healthHandler.Readiness)

	if opts.MetricsEnabled {
		metrics := NewMetricsHandler()
		if opts.MetricsToken != "" {
			app.Get("/metrics", BearerTokenMiddleware(opts.MetricsToken), metrics.Handler())
		} else {
			app.Get("/metrics", metrics.Handler())
		}
	}
}
