package http

import (
	"log"
	"strconv"

	"warehouse-sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
)

// ListConflicts returns the caller's unresolved conflicts.
func (h *Handler) ListConflicts(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)

	conflicts, err := h.coordinator.ListConflicts(c.Context(), userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"conflicts": conflicts, "count": len(conflicts)})
}

// ResolveConflict applies a chosen strategy to one of the caller's
// conflicts. Ambiguous outcomes are rejected, never silently decided.
func (h *Handler) ResolveConflict(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)
	conflictID := c.Params("conflict_id")

	var req models.ResolveConflictRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	resolved, err := h.coordinator.ResolveConflict(c.Context(), conflictID, userID, &req)
	if err != nil {
		return serviceError(c, err)
	}

	log.Printf("✅ [CONFLICT] %s resolved via %s by user=%s", conflictID, req.Resolution, userID)
	return c.JSON(fiber.Map{"status": "resolved", "conflict": resolved})
}

// AdminListConflicts is the operator view across all users, optionally
// filtered with ?resolved=true|false.
func (h *Handler) AdminListConflicts(c *fiber.Ctx) error {
	var resolved *bool
	if resolvedStr := c.Query("resolved"); resolvedStr != "" {
		v, err := strconv.ParseBool(resolvedStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query parameter 'resolved' must be true or false",
			})
		}
		resolved = &v
	}

	conflicts, err := h.coordinator.ListAllConflicts(c.Context(), resolved)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"conflicts": conflicts, "count": len(conflicts)})
}

// GetRecommendation returns the advisory strategy suggestion for a
// conflict. It is never auto-applied.
func (h *Handler) GetRecommendation(c *fiber.Ctx) error {
	conflictID := c.Params("conflict_id")

	rec, err := h.coordinator.Recommend(c.Context(), conflictID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(rec)
}
