package repository

import (
	"context"
	"fmt"
	"time"

	"warehouse-sync-service/pkg/models"

	"gorm.io/gorm"
)

type DeviceRepository interface {
	// FindByDeviceID looks a device id up across all users, for the
	// cross-user ownership check.
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	FindByDeviceAndUser(ctx context.Context, deviceID, userID string) (*models.Device, error)
	Create(ctx context.Context, device *models.Device) error
	Save(ctx context.Context, device *models.Device) error
	TouchLastSync(ctx context.Context, deviceID, userID string, at time.Time) error
	// AdvancePullCursor moves the device's delivered-up-to origin timestamp
	// forward. Never moves it backwards.
	AdvancePullCursor(ctx context.Context, deviceID, userID string, ts int64) error
	List(ctx context.Context, userID string, activeOnly bool) ([]*models.Device, error)
	// ListAll is the operator view across all users.
	ListAll(ctx context.Context) ([]*models.Device, error)
	ListActiveWithFCMToken(ctx context.Context, userID, excludeDeviceID string) ([]*models.Device, error)
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&device).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &device, nil
}

func (r *deviceRepository) FindByDeviceAndUser(ctx context.Context, deviceID, userID string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND user_id = ?", deviceID, userID).
		First(&device).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &device, nil
}

func (r *deviceRepository) Create(ctx context.Context, device *models.Device) error {
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *deviceRepository) Save(ctx context.Context, device *models.Device) error {
	if err := r.db.WithContext(ctx).Save(device).Error; err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

func (r *deviceRepository) TouchLastSync(ctx context.Context, deviceID, userID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("device_id = ? AND user_id = ?", deviceID, userID).
		Updates(map[string]interface{}{"last_sync": at, "is_active": true}).Error
}

func (r *deviceRepository) AdvancePullCursor(ctx context.Context, deviceID, userID string, ts int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("device_id = ? AND user_id = ? AND last_pulled_ts < ?", deviceID, userID, ts).
		Update("last_pulled_ts", ts).Error
}

func (r *deviceRepository) List(ctx context.Context, userID string, activeOnly bool) ([]*models.Device, error) {
	var devices []*models.Device
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("created_at ASC").Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) ListAll(ctx context.Context) ([]*models.Device, error) {
	var devices []*models.Device
	err := r.db.WithContext(ctx).
		Order("user_id ASC, created_at ASC").
		Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) ListActiveWithFCMToken(ctx context.Context, userID, excludeDeviceID string) ([]*models.Device, error) {
	var devices []*models.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id <> ? AND is_active = ? AND fcm_token IS NOT NULL", userID, excludeDeviceID, true).
		Find(&devices).Error
	return devices, err
}
