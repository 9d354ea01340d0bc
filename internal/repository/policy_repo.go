package repository

import (
	"context"

	"warehouse-sync-service/pkg/models"

	"gorm.io/gorm"
)

type PolicyRepository interface {
	List(ctx context.Context) ([]*models.TablePolicy, error)
	Get(ctx context.Context, table string) (*models.TablePolicy, error)
	Save(ctx context.Context, policy *models.TablePolicy) error
}

type policyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) List(ctx context.Context) ([]*models.TablePolicy, error) {
	var policies []*models.TablePolicy
	err := r.db.WithContext(ctx).Order("table_name ASC").Find(&policies).Error
	return policies, err
}

func (r *policyRepository) Get(ctx context.Context, table string) (*models.TablePolicy, error) {
	var policy models.TablePolicy
	err := r.db.WithContext(ctx).
		Where("table_name = ?", table).
		First(&policy).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &policy, nil
}

func (r *policyRepository) Save(ctx context.Context, policy *models.TablePolicy) error {
	return r.db.WithContext(ctx).Save(policy).Error
}
