package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OperationRepository interface {
	// FindByOperationID is the idempotency lookup; callers treat a hit as
	// an already-successful item and never reapply it.
	FindByOperationID(ctx context.Context, operationID string) (*models.OperationEntry, error)
	Create(ctx context.Context, entry *models.OperationEntry) error
	// MarkResolved flips an entry to processed with the resolved payload
	// and resolution tag. Status transitions are the only mutation path.
	MarkResolved(ctx context.Context, id uuid.UUID, payload datatypes.JSON, resolution string) error
	// LatestForRecordBetween returns the newest entry for (table, record_id)
	// from a device other than excludeDeviceID with a timestamp inside
	// [fromTs, toTs], or ErrNotFound.
	LatestForRecordBetween(ctx context.Context, userID, table, recordID, excludeDeviceID string, fromTs, toTs int64) (*models.OperationEntry, error)
	// FindProcessedSince feeds pull: other-device processed entries strictly
	// after sinceTs, ascending by origin timestamp, capped at limit.
	FindProcessedSince(ctx context.Context, userID, excludeDeviceID string, sinceTs int64, limit int) ([]*models.OperationEntry, error)
	CountProcessedSince(ctx context.Context, userID, excludeDeviceID string, sinceTs int64) (int64, error)
	// FindProcessedOlderThan pages aged rows with a strict keyset on id, so
	// rows sharing a created_at are never skipped across batch boundaries.
	// Pass uuid.Nil for the first page.
	FindProcessedOlderThan(ctx context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]*models.OperationEntry, error)
	// DeleteProcessedOlderThan is the only bulk delete in the system and is
	// restricted to processed rows past the age threshold.
	DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type operationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) FindByOperationID(ctx context.Context, operationID string) (*models.OperationEntry, error) {
	var entry models.OperationEntry
	err := r.db.WithContext(ctx).
		Where("operation_id = ?", operationID).
		First(&entry).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &entry, nil
}

func (r *operationRepository) Create(ctx context.Context, entry *models.OperationEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Unique index on operation_id: a concurrent push of the same
			// item got there first.
			return ErrDuplicate
		}
		return fmt.Errorf("failed to append operation entry: %w", err)
	}
	return nil
}

func (r *operationRepository) MarkResolved(ctx context.Context, id uuid.UUID, payload datatypes.JSON, resolution string) error {
	return r.db.WithContext(ctx).
		Model(&models.OperationEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.StatusProcessed,
			"payload":    payload,
			"resolution": resolution,
		}).Error
}

func (r *operationRepository) LatestForRecordBetween(ctx context.Context, userID, table, recordID, excludeDeviceID string, fromTs, toTs int64) (*models.OperationEntry, error) {
	var entry models.OperationEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND table_name = ? AND record_id = ? AND device_id <> ?", userID, table, recordID, excludeDeviceID).
		Where("timestamp BETWEEN ? AND ?", fromTs, toTs).
		Order("timestamp DESC").
		First(&entry).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &entry, nil
}

func (r *operationRepository) FindProcessedSince(ctx context.Context, userID, excludeDeviceID string, sinceTs int64, limit int) ([]*models.OperationEntry, error) {
	var entries []*models.OperationEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id <> ? AND status = ?", userID, excludeDeviceID, models.StatusProcessed).
		Where("timestamp > ?", sinceTs).
		Order("timestamp ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *operationRepository) CountProcessedSince(ctx context.Context, userID, excludeDeviceID string, sinceTs int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OperationEntry{}).
		Where("user_id = ? AND device_id <> ? AND status = ?", userID, excludeDeviceID, models.StatusProcessed).
		Where("timestamp > ?", sinceTs).
		Count(&count).Error
	return count, err
}

func (r *operationRepository) FindProcessedOlderThan(ctx context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]*models.OperationEntry, error) {
	var entries []*models.OperationEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusProcessed, cutoff).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *operationRepository) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusProcessed, cutoff).
		Delete(&models.OperationEntry{})
	return res.RowsAffected, res.Error
}
