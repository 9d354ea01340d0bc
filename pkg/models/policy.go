package models

import "time"

// TablePolicy is the operator-editable default resolution strategy for one
// syncable table. Seeded at startup; the resolver falls back to last_wins
// for tables without a row.
type TablePolicy struct {
	Table           string             `json:"table_name" gorm:"primaryKey;column:table_name;type:varchar(30)"`
	DefaultStrategy ResolutionStrategy `json:"default_strategy" gorm:"type:varchar(30);not null"`
	Description     string             `json:"description" gorm:"type:text"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (TablePolicy) TableName() string {
	return "table_policies"
}

// UpdateTablePolicyRequest is the body of PATCH /admin/policies/:table.
type UpdateTablePolicyRequest struct {
	DefaultStrategy ResolutionStrategy `json:"default_strategy" validate:"required,oneof=last_wins local_wins remote_wins merged manual"`
	Description     *string            `json:"description,omitempty"`
}
