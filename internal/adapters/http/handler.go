package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Updater is the update orchestration the API exposes.
type Updater interface {
	CheckVersion(ctx context.Context) (domain.VersionCheck, error)
	PerformUpdate(ctx context.Context) domain.UpdateResult
}

// ActivityReader returns recent operation log entries, newest first.
type ActivityReader interface {
	Recent(limit int) []domain.ActivityEntry
}

const defaultActivityLimit = 50

type UpdateHandler struct {
	updater  Updater
	runtime  ports.ContainerRuntime
	activity ActivityReader
}

func NewUpdateHandler(updater Updater, runtime ports.ContainerRuntime, activity ActivityReader) *UpdateHandler {
	return &UpdateHandler{updater: updater, runtime: runtime, activity: activity}
}

// Register mounts the API under /api/v1 and metrics under /metrics.
func (h *UpdateHandler) Register(app *fiber.App) {
	v1 := app.Group("/api/v1")

	update := v1.Group("/update")
	update.Get("/check", h.CheckVersion)
	update.Post("/", h.PerformUpdate)
	update.Get("/activity", h.Activity)

	v1.Get("/containers", h.ListContainers)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (h *UpdateHandler) CheckVersion(c *fiber.Ctx) error {
	check, err := h.updater.CheckVersion(c.Context())
	if err != nil {
		status := fiber.StatusInternalServerError
		var netErr *domain.NetworkError
		if errors.As(err, &netErr) {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(check)
}

// PerformUpdate runs one update session synchronously. The session result is
// always returned; the status code tells how far it got.
func (h *UpdateHandler) PerformUpdate(c *fiber.Ctx) error {
	result := h.updater.PerformUpdate(c.Context())
	return c.Status(statusFor(result.Outcome)).JSON(result)
}

func statusFor(outcome domain.Outcome) int {
	switch outcome {
	case domain.OutcomeUpdated, domain.OutcomeCurrent:
		return fiber.StatusOK
	case domain.OutcomeRejected:
		return fiber.StatusConflict
	case domain.OutcomeFailed:
		return fiber.StatusPreconditionFailed
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *UpdateHandler) Activity(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultActivityLimit)
	if limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must not be negative",
		})
	}
	return c.JSON(h.activity.Recent(limit))
}

func (h *UpdateHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.runtime.ListContainers(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(containers)
}
