package http

import (
	"log"
	"strconv"

	"warehouse-sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
)

// ListDevices returns the caller's devices; ?active=true filters to the
// active ones.
func (h *Handler) ListDevices(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)

	activeOnly := false
	if activeStr := c.Query("active"); activeStr != "" {
		v, err := strconv.ParseBool(activeStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query parameter 'active' must be true or false",
			})
		}
		activeOnly = v
	}

	devices, err := h.devices.List(c.Context(), userID, activeOnly)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"devices": devices, "count": len(devices)})
}

// RegisterDevice registers the calling device with client-supplied
// metadata, or refreshes the metadata on re-registration.
func (h *Handler) RegisterDevice(c *fiber.Ctx) error {
	userID, deviceID := callerIdentity(c)

	var req models.RegisterDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	device, err := h.devices.Register(c.Context(), deviceID, userID, &req)
	if err != nil {
		return serviceError(c, err)
	}

	log.Printf("📱 [DEVICE] Registered %s (%s) for user=%s", deviceID, req.Type, userID)
	return c.Status(fiber.StatusCreated).JSON(device)
}

// UpdateDevice partially updates one of the caller's devices.
func (h *Handler) UpdateDevice(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)
	deviceID := c.Params("device_id")

	var req models.UpdateDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	device, err := h.devices.Update(c.Context(), deviceID, userID, &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(device)
}

// DeactivateDevice soft-disables a device. Its operation history stays.
func (h *Handler) DeactivateDevice(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)
	deviceID := c.Params("device_id")

	if err := h.devices.Deactivate(c.Context(), deviceID, userID); err != nil {
		return serviceError(c, err)
	}

	log.Printf("📱 [DEVICE] Deactivated %s for user=%s", deviceID, userID)
	return c.JSON(fiber.Map{"status": "deactivated", "device_id": deviceID})
}

// RegisterFCMToken binds a push token to a device for sync nudges.
func (h *Handler) RegisterFCMToken(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)
	deviceID := c.Params("device_id")

	var req models.RegisterFCMTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.devices.SetFCMToken(c.Context(), deviceID, userID, req.Token); err != nil {
		return serviceError(c, err)
	}

	log.Printf("🔔 [FCM] Token registered for device=%s user=%s", deviceID, userID)
	return c.JSON(fiber.Map{"status": "registered"})
}

// UnregisterFCMToken clears a device's push token.
func (h *Handler) UnregisterFCMToken(c *fiber.Ctx) error {
	userID, _ := callerIdentity(c)
	deviceID := c.Params("device_id")

	if err := h.devices.SetFCMToken(c.Context(), deviceID, userID, ""); err != nil {
		return serviceError(c, err)
	}

	log.Printf("🔔 [FCM] Token cleared for device=%s user=%s", deviceID, userID)
	return c.JSON(fiber.Map{"status": "unregistered"})
}
