package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/blob"
)

const readinessTimeout = 3 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db    *sql.DB
	blobs blob.Store
}

func NewHealthHandler(db *sql.DB, blobs blob.Store) *HealthHandler {
	return &HealthHandler{db: db, blobs: blobs}
}

// Liveness reports that the process is serving requests.
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// Readiness checks the database and the blob store.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	checks := fiber.Map{}
	allHealthy := true
	for name, check := range map[string]func(context.Context) error{
		"database": h.checkDatabase,
		"storage":  h.checkStorage,
	} {
		if err := check(ctx); err != nil {
			checks[name] = fiber.Map{"status": "unhealthy", "error": err.Error()}
			allHealthy = false
			continue
		}
		checks[name] = fiber.Map{"status": "healthy"}
	}

	status := "ok"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return ErrDatabaseNotInitialized
	}
	return h.db.PingContext(ctx)
}

func (h *HealthHandler) checkStorage(ctx context.Context) error {
	if h.blobs == nil {
		return ErrStorageNotConfigured
	}
	return h.blobs.Ping(ctx)
}
