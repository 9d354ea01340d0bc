package http

import (
	"log"

	"warehouse-sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
)

// ListPolicies returns the per-table default resolution strategies.
func (h *Handler) ListPolicies(c *fiber.Ctx) error {
	policies, err := h.coordinator.ListPolicies(c.Context())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"policies": policies})
}

// UpdatePolicy changes a table's default strategy. The running resolver
// picks the change up immediately.
func (h *Handler) UpdatePolicy(c *fiber.Ctx) error {
	table := c.Params("table")

	var req models.UpdateTablePolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	policy, err := h.coordinator.UpdatePolicy(c.Context(), table, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(policy)
}

// AdminListDevices returns every registered device across all users.
func (h *Handler) AdminListDevices(c *fiber.Ctx) error {
	devices, err := h.devices.ListAll(c.Context())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"devices": devices, "count": len(devices)})
}

// TriggerCleanup runs the retention cycle (archive then delete) on demand
// instead of waiting for the scheduler.
func (h *Handler) TriggerCleanup(c *fiber.Ctx) error {
	deleted, err := h.cleaner.RunCleanup(c.Context())
	if err != nil {
		log.Printf("❌ [CLEANUP] Manual run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cleanup failed"})
	}

	log.Printf("🧹 [CLEANUP] Manual run deleted %d aged entries", deleted)
	return c.JSON(fiber.Map{"status": "success", "deleted": deleted})
}
