package http

import (
	"encoding/json"
	"errors"
	"log"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/internal/retention"
	"warehouse-sync-service/internal/service"
	"warehouse-sync-service/internal/sse"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Handler aggregates the HTTP-facing services. The gateway middleware has
// already authenticated every request reaching these handlers; user and
// device identity come from the forwarded headers.
type Handler struct {
	coordinator *service.SyncCoordinator
	devices     *service.DeviceService
	broker      *sse.Broker
	cleaner     *retention.Cleaner
	validate    *validator.Validate
}

func NewHandler(
	coordinator *service.SyncCoordinator,
	devices *service.DeviceService,
	broker *sse.Broker,
	cleaner *retention.Cleaner,
) *Handler {
	return &Handler{
		coordinator: coordinator,
		devices:     devices,
		broker:      broker,
		cleaner:     cleaner,
		validate:    validator.New(),
	}
}

// callerIdentity reads the gateway-forwarded identity headers. The auth
// middleware guarantees both are present on /v1 routes.
func callerIdentity(c *fiber.Ctx) (userID, deviceID string) {
	return c.Get("X-User-ID"), c.Get("X-Device-ID")
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("⚠️ toJSON marshal error: %v", err)
		return "{}"
	}
	return string(b)
}

// serviceError maps service-layer errors onto HTTP responses so every
// handler reports failures the same way.
func serviceError(c *fiber.Ctx, err error) error {
	var validationErr *service.ValidationError
	var deviceErr *service.DeviceConflictError
	var resolutionErr *service.ResolutionError

	switch {
	case errors.Is(err, service.ErrConflictNotFound), errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr.Error()})
	case errors.As(err, &deviceErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": deviceErr.Error()})
	case errors.As(err, &resolutionErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": resolutionErr.Error()})
	default:
		log.Printf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}
