package repository

import (
	"context"

	"warehouse-sync-service/pkg/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncConfigRepository is the KV bookkeeping store (last cleanup run,
// last digest send).
type SyncConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type syncConfigRepository struct {
	db *gorm.DB
}

func NewSyncConfigRepository(db *gorm.DB) SyncConfigRepository {
	return &syncConfigRepository{db: db}
}

func (r *syncConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var cfg models.SyncConfig
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&cfg).Error
	if err != nil {
		return "", translateNotFound(err)
	}
	return cfg.Value, nil
}

func (r *syncConfigRepository) Set(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&models.SyncConfig{Key: key, Value: value}).Error
}
