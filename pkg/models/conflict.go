package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConflictKind classifies a detected pair of colliding operations.
type ConflictKind string

const (
	ConflictConcurrentUpdate ConflictKind = "concurrent_update"
	ConflictDeleteUpdate     ConflictKind = "delete_update" // incoming DELETE vs stored UPDATE
	ConflictUpdateDelete     ConflictKind = "update_delete" // incoming UPDATE vs stored DELETE
	ConflictDuplicateCreate  ConflictKind = "duplicate_create"
)

// ResolutionStrategy names how a conflict was (or should be) resolved.
type ResolutionStrategy string

const (
	ResolutionLastWins   ResolutionStrategy = "last_wins"
	ResolutionLocalWins  ResolutionStrategy = "local_wins"
	ResolutionRemoteWins ResolutionStrategy = "remote_wins"
	ResolutionMerged     ResolutionStrategy = "merged"
	ResolutionManual     ResolutionStrategy = "manual"
)

func IsValidResolution(s ResolutionStrategy) bool {
	switch s {
	case ResolutionLastWins, ResolutionLocalWins, ResolutionRemoteWins, ResolutionMerged, ResolutionManual:
		return true
	}
	return false
}

// Conflict records two same-record operations from different devices inside
// the recency window. "Local" is the incoming operation that triggered the
// detection; "remote" is the previously stored one. Conflicts are never
// deleted — resolution only marks them resolved.
type Conflict struct {
	ID               uuid.UUID           `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OperationEntryID uuid.UUID           `json:"operation_entry_id" gorm:"type:uuid;not null;index"`
	UserID           string              `json:"user_id" gorm:"type:varchar(36);index;not null"`
	Table            string              `json:"table_name" gorm:"column:table_name;type:varchar(30);not null"`
	RecordID         string              `json:"record_id" gorm:"type:varchar(100);not null"`
	Kind             ConflictKind        `json:"kind" gorm:"type:varchar(30);not null"`
	LocalPayload     datatypes.JSON      `json:"local_payload,omitempty" gorm:"type:jsonb"`
	LocalTimestamp   int64               `json:"local_timestamp" gorm:"not null"`
	LocalDeviceID    string              `json:"local_device_id" gorm:"type:varchar(100);not null"`
	RemotePayload    datatypes.JSON      `json:"remote_payload,omitempty" gorm:"type:jsonb"`
	RemoteTimestamp  int64               `json:"remote_timestamp" gorm:"not null"`
	RemoteDeviceID   string              `json:"remote_device_id" gorm:"type:varchar(100);not null"`
	Resolved         bool                `json:"resolved" gorm:"not null;default:false;index"`
	Resolution       *ResolutionStrategy `json:"resolution,omitempty" gorm:"type:varchar(30)"`
	ResolvedData     datatypes.JSON      `json:"resolved_data,omitempty" gorm:"type:jsonb"`
	ResolvedBy       *string             `json:"resolved_by,omitempty" gorm:"type:varchar(100)"`
	ResolvedAt       *time.Time          `json:"resolved_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (Conflict) TableName() string {
	return "sync_conflicts"
}

// ResolveConflictRequest is the body of POST .../conflicts/:id/resolve.
// ResolvedData is required only for manual resolution.
type ResolveConflictRequest struct {
	Resolution   ResolutionStrategy     `json:"resolution" validate:"required,oneof=last_wins local_wins remote_wins merged manual"`
	ResolvedData map[string]interface{} `json:"resolved_data,omitempty"`
}

// Recommendation is advisory tooling output, never auto-applied.
type Recommendation struct {
	Strategy   ResolutionStrategy `json:"strategy"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
}
