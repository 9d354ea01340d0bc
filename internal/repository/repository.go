package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups when no row matches. GORM's
// ErrRecordNotFound is translated at this boundary so services never
// depend on the driver.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned by inserts that lose a unique-index race. It
// requires TranslateError on the gorm config so the driver's unique
// violation surfaces as gorm.ErrDuplicatedKey.
var ErrDuplicate = errors.New("duplicate record")

// Repositories bundles the per-entity repositories that share one
// *gorm.DB (or one transaction).
type Repositories struct {
	Devices    DeviceRepository
	Operations OperationRepository
	Conflicts  ConflictRepository
	Policies   PolicyRepository
	Config     SyncConfigRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Devices:    NewDeviceRepository(db),
		Operations: NewOperationRepository(db),
		Conflicts:  NewConflictRepository(db),
		Policies:   NewPolicyRepository(db),
		Config:     NewSyncConfigRepository(db),
	}
}

// TxManager runs a function inside one database transaction while holding
// an advisory lock keyed by (table, record_id). This is the single
// correctness-critical lock in the system: without it two concurrent pushes
// for the same record could each miss the other's entry and both append as
// non-conflicting.
type TxManager interface {
	WithRecordLock(ctx context.Context, table, recordID string, fn func(tx *Repositories) error) error
}

type gormTxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) TxManager {
	return &gormTxManager{db: db}
}

func (m *gormTxManager) WithRecordLock(ctx context.Context, table, recordID string, fn func(tx *Repositories) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// pg_advisory_xact_lock releases automatically at commit/rollback.
		if err := tx.Exec(
			"SELECT pg_advisory_xact_lock(hashtextextended(?, 0))",
			table+"/"+recordID,
		).Error; err != nil {
			return err
		}
		return fn(New(tx))
	})
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
