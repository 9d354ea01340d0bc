package repository

import (
	"context"
	"fmt"
	"time"

	"warehouse-sync-service/pkg/models"

	"gorm.io/gorm"
)

type ConflictRepository interface {
	Create(ctx context.Context, conflict *models.Conflict) error
	FindByID(ctx context.Context, id string) (*models.Conflict, error)
	// ListByUser filters by the resolved flag when resolved is non-nil.
	ListByUser(ctx context.Context, userID string, resolved *bool) ([]*models.Conflict, error)
	// ListAll is the operator view across all users.
	ListAll(ctx context.Context, resolved *bool) ([]*models.Conflict, error)
	ListUnresolved(ctx context.Context) ([]*models.Conflict, error)
	CountUnresolvedByUser(ctx context.Context, userID string) (int64, error)
	Save(ctx context.Context, conflict *models.Conflict) error
	// ExistsForRecordSince is the best-effort secondary scan: reports
	// whether any conflict for (table, record_id) was created after since.
	ExistsForRecordSince(ctx context.Context, userID, table, recordID string, since time.Time) (bool, error)
}

type conflictRepository struct {
	db *gorm.DB
}

func NewConflictRepository(db *gorm.DB) ConflictRepository {
	return &conflictRepository{db: db}
}

func (r *conflictRepository) Create(ctx context.Context, conflict *models.Conflict) error {
	if err := r.db.WithContext(ctx).Create(conflict).Error; err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

func (r *conflictRepository) FindByID(ctx context.Context, id string) (*models.Conflict, error) {
	var conflict models.Conflict
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&conflict).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &conflict, nil
}

func (r *conflictRepository) ListByUser(ctx context.Context, userID string, resolved *bool) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if resolved != nil {
		q = q.Where("resolved = ?", *resolved)
	}
	err := q.Order("created_at DESC").Find(&conflicts).Error
	return conflicts, err
}

func (r *conflictRepository) ListAll(ctx context.Context, resolved *bool) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict
	q := r.db.WithContext(ctx)
	if resolved != nil {
		q = q.Where("resolved = ?", *resolved)
	}
	err := q.Order("created_at DESC").Find(&conflicts).Error
	return conflicts, err
}

func (r *conflictRepository) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict
	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at ASC").
		Find(&conflicts).Error
	return conflicts, err
}

func (r *conflictRepository) CountUnresolvedByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("user_id = ? AND resolved = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *conflictRepository) Save(ctx context.Context, conflict *models.Conflict) error {
	if err := r.db.WithContext(ctx).Save(conflict).Error; err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

func (r *conflictRepository) ExistsForRecordSince(ctx context.Context, userID, table, recordID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("user_id = ? AND table_name = ? AND record_id = ? AND created_at > ?", userID, table, recordID, since).
		Count(&count).Error
	return count > 0, err
}
