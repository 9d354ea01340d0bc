package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SyncOperation is the kind of mutation a device recorded locally.
type SyncOperation string

const (
	OperationCreate SyncOperation = "CREATE"
	OperationUpdate SyncOperation = "UPDATE"
	OperationDelete SyncOperation = "DELETE"
)

// OperationStatus tracks how far an entry got through the push pipeline.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusProcessed OperationStatus = "processed"
	StatusFailed    OperationStatus = "failed"
	StatusConflict  OperationStatus = "conflict"
)

// Syncable tables — the closed set of logical tables devices may touch.
const (
	TableEquipment  = "equipment"
	TableCategories = "categories"
	TableLocations  = "locations"
	TableShipments  = "shipments"
	TableStacks     = "stacks"
	TableUsers      = "users"
)

var syncableTables = map[string]bool{
	TableEquipment:  true,
	TableCategories: true,
	TableLocations:  true,
	TableShipments:  true,
	TableStacks:     true,
	TableUsers:      true,
}

// IsSyncableTable reports whether devices are allowed to push operations
// for the given logical table.
func IsSyncableTable(table string) bool {
	return syncableTables[table]
}

func IsValidOperation(op SyncOperation) bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// OperationEntry is one durable record of a single device-originated
// mutation. OperationID is the client-supplied idempotency key; retried
// pushes with the same id are answered from this row without reapplying.
type OperationEntry struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OperationID string          `json:"operation_id" gorm:"type:varchar(100);uniqueIndex;not null"`
	UserID      string          `json:"user_id" gorm:"type:varchar(36);index;not null"`
	DeviceID    string          `json:"device_id" gorm:"type:varchar(100);index;not null"`
	Table       string          `json:"table_name" gorm:"column:table_name;type:varchar(30);not null;index:idx_op_record"`
	RecordID    string          `json:"record_id" gorm:"type:varchar(100);not null;index:idx_op_record"`
	Operation   SyncOperation   `json:"operation" gorm:"type:varchar(10);not null"`
	Payload     datatypes.JSON  `json:"payload,omitempty" gorm:"type:jsonb"`
	Timestamp   int64           `json:"timestamp" gorm:"not null;index"` // device clock, ms epoch
	Status      OperationStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Resolution  *string         `json:"resolution,omitempty" gorm:"type:varchar(30)"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (OperationEntry) TableName() string {
	return "operation_entries"
}

// PushItem is one client-submitted operation inside a push batch.
type PushItem struct {
	OperationID string                 `json:"operation_id" validate:"required,max=100"`
	Table       string                 `json:"table" validate:"required,oneof=equipment categories locations shipments stacks users"`
	RecordID    string                 `json:"record_id" validate:"required,max=100"`
	Operation   SyncOperation          `json:"operation" validate:"required,oneof=CREATE UPDATE DELETE"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   int64                  `json:"timestamp" validate:"required,gt=0"`
}

// PushRequest is the body of POST /v1/sync/push.
type PushRequest struct {
	Operations []PushItem `json:"operations" validate:"required,min=1,max=500,dive"`
}

// PushItemError reports a single failed item without failing the batch.
type PushItemError struct {
	OperationID string `json:"operation_id"`
	Error       string `json:"error"`
}

// PushResult aggregates per-item outcomes of one push call.
type PushResult struct {
	ProcessedCount int             `json:"processed_count"`
	FailedCount    int             `json:"failed_count"`
	Conflicts      []*Conflict     `json:"conflicts"`
	Errors         []PushItemError `json:"errors"`
}

// PullItem is one replayed operation delivered to a pulling device.
type PullItem struct {
	Table     string         `json:"table"`
	RecordID  string         `json:"record_id"`
	Operation SyncOperation  `json:"operation"`
	Data      datatypes.JSON `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// PullResponse carries a capped, ascending page of other-device changes.
// Clients page by re-pulling with the last returned timestamp as cursor.
type PullResponse struct {
	Items   []PullItem `json:"items"`
	HasMore bool       `json:"has_more"`
}

// SyncStatus is the body of GET /v1/sync/status.
type SyncStatus struct {
	PendingOperations int64      `json:"pending_operations"`
	Conflicts         int64      `json:"conflicts"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
}
