package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
)

// DeviceService is the device registry: identity, ownership, liveness.
// Devices are never hard-deleted from the sync path — deactivation is soft.
type DeviceService struct {
	repo repository.DeviceRepository
}

func NewDeviceService(repo repository.DeviceRepository) *DeviceService {
	return &DeviceService{repo: repo}
}

// Ensure is the idempotent get-or-create used by push and pull. An unseen
// device id is auto-registered with a synthesized name; a device id bound
// to a different user is rejected.
func (s *DeviceService) Ensure(ctx context.Context, deviceID, userID string) (*models.Device, error) {
	device, err := s.repo.FindByDeviceAndUser(ctx, deviceID, userID)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// Not registered for this user — check whether another user owns it.
	other, err := s.repo.FindByDeviceID(ctx, deviceID)
	if err == nil && other.UserID != userID {
		return nil, &DeviceConflictError{DeviceID: deviceID}
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	device = &models.Device{
		ID:       uuid.New(),
		DeviceID: deviceID,
		UserID:   userID,
		Name:     synthesizeName(deviceID),
		Type:     "unknown",
		LastSync: &now,
		IsActive: true,
	}
	if err := s.repo.Create(ctx, device); err != nil {
		// A concurrent Ensure may have won the unique-index race; re-read.
		if existing, ferr := s.repo.FindByDeviceAndUser(ctx, deviceID, userID); ferr == nil {
			return existing, nil
		}
		return nil, err
	}

	log.Printf("📱 [DEVICE] Auto-registered %s for user %s", deviceID, userID)
	return device, nil
}

// Register creates a device with client-supplied metadata, or updates the
// metadata if the pair already exists.
func (s *DeviceService) Register(ctx context.Context, deviceID, userID string, req *models.RegisterDeviceRequest) (*models.Device, error) {
	device, err := s.Ensure(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	device.Name = req.Name
	device.Type = req.Type
	device.Platform = req.Platform
	device.IsActive = true
	if err := s.repo.Save(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// Update applies a partial update; nil fields are left untouched.
func (s *DeviceService) Update(ctx context.Context, deviceID, userID string, req *models.UpdateDeviceRequest) (*models.Device, error) {
	device, err := s.repo.FindByDeviceAndUser(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		device.Name = *req.Name
	}
	if req.Type != nil {
		device.Type = *req.Type
	}
	if req.Platform != nil {
		device.Platform = *req.Platform
	}
	if req.IsActive != nil {
		device.IsActive = *req.IsActive
	}

	if err := s.repo.Save(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// Heartbeat bumps last_sync and the active flag without a full update.
func (s *DeviceService) Heartbeat(ctx context.Context, deviceID, userID string) error {
	return s.repo.TouchLastSync(ctx, deviceID, userID, time.Now())
}

// Deactivate soft-disables a device, preserving its operation history.
func (s *DeviceService) Deactivate(ctx context.Context, deviceID, userID string) error {
	device, err := s.repo.FindByDeviceAndUser(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	device.IsActive = false
	return s.repo.Save(ctx, device)
}

func (s *DeviceService) List(ctx context.Context, userID string, activeOnly bool) ([]*models.Device, error) {
	return s.repo.List(ctx, userID, activeOnly)
}

// ListAll is the operator view across every user.
func (s *DeviceService) ListAll(ctx context.Context) ([]*models.Device, error) {
	return s.repo.ListAll(ctx)
}

// SetFCMToken binds (or clears, with an empty token) the push token used
// for sync nudges.
func (s *DeviceService) SetFCMToken(ctx context.Context, deviceID, userID, token string) error {
	device, err := s.repo.FindByDeviceAndUser(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	if token == "" {
		device.FCMToken = nil
	} else {
		device.FCMToken = &token
	}
	return s.repo.Save(ctx, device)
}

func synthesizeName(deviceID string) string {
	short := deviceID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Device %s", short)
}
