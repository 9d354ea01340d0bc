package http

import (
	"bufio"
	"fmt"
	"log"
	"strconv"
	"time"

	"warehouse-sync-service/internal/sse"
	"warehouse-sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
)

// Push ingests a batch of device operations. Per-item failures are
// reported in the result; the call itself fails only for malformed bodies
// or a device owned by another user.
func (h *Handler) Push(c *fiber.Ctx) error {
	userID, deviceID := callerIdentity(c)

	var req models.PushRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.coordinator.Push(c.Context(), deviceID, userID, &req)
	if err != nil {
		return serviceError(c, err)
	}

	log.Printf("📥 [PUSH] user=%s device=%s processed=%d failed=%d conflicts=%d",
		userID, deviceID, result.ProcessedCount, result.FailedCount, len(result.Conflicts))
	return c.JSON(result)
}

// Pull replays other-device changes after the `since` cursor (ms epoch).
func (h *Handler) Pull(c *fiber.Ctx) error {
	userID, deviceID := callerIdentity(c)

	var sinceTs int64
	if sinceStr := c.Query("since"); sinceStr != "" {
		var err error
		sinceTs, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || sinceTs < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query parameter 'since' must be a non-negative ms epoch",
			})
		}
	}

	resp, err := h.coordinator.Pull(c.Context(), deviceID, userID, sinceTs)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(resp)
}

// SyncStatus reports the device's backlog, unresolved conflicts and last
// sync time.
func (h *Handler) SyncStatus(c *fiber.Ctx) error {
	userID, deviceID := callerIdentity(c)

	status, err := h.coordinator.Status(c.Context(), deviceID, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(status)
}

// Heartbeat advances last_sync for devices that have nothing to push.
func (h *Handler) Heartbeat(c *fiber.Ctx) error {
	userID, deviceID := callerIdentity(c)

	if _, err := h.devices.Ensure(c.Context(), deviceID, userID); err != nil {
		return serviceError(c, err)
	}
	if err := h.devices.Heartbeat(c.Context(), deviceID, userID); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "at": time.Now().UTC().Format(time.RFC3339)})
}

// StreamEvents is the long-lived SSE connection over which a device is
// nudged to pull after its siblings push changes.
func (h *Handler) StreamEvents(c *fiber.Ctx) error {
	userID, deviceID := callerIdentity(c)

	if _, err := h.devices.Ensure(c.Context(), deviceID, userID); err != nil {
		return serviceError(c, err)
	}

	connStart := time.Now()
	log.Printf("✅ [SSE] 🟢 Connection STARTED for user=%s device=%s", userID, deviceID)

	// Headers must be set before SetBodyStreamWriter.
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")
	c.Set("Transfer-Encoding", "chunked")

	origin := c.Get("Origin")
	if origin != "" {
		c.Set("Access-Control-Allow-Origin", origin)
		c.Set("Access-Control-Allow-Credentials", "true")
	}

	clientChan := make(chan sse.Event, 10)
	h.broker.Subscribe(userID, deviceID, clientChan)

	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.broker.Unsubscribe(userID, clientChan)
			log.Printf("🔌 [SSE] 🔴 Connection CLOSED for user=%s device=%s after %v",
				userID, deviceID, time.Since(connStart).Round(time.Second))
		}()

		ready := fmt.Sprintf("event: ready\ndata: %s\n\n", toJSON(fiber.Map{
			"status":    "ready",
			"user_id":   userID,
			"device_id": deviceID,
			"at":        time.Now().UTC().Format(time.RFC3339Nano),
		}))
		if _, err := w.WriteString(ready); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-done:
				return

			case event, ok := <-clientChan:
				if !ok {
					return
				}
				message := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, toJSON(event))
				if _, err := w.WriteString(message); err != nil {
					log.Printf("⚠️ [SSE] Write error for device=%s: %v", deviceID, err)
					return
				}
				if err := w.Flush(); err != nil {
					log.Printf("⚠️ [SSE] Flush error for device=%s: %v", deviceID, err)
					return
				}

			case <-heartbeat.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}
