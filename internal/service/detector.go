package service

import (
	"context"
	"errors"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"
)

// ConflictDetector decides whether an incoming operation collides with an
// operation already stored from a different device. The recency window is
// the sole cross-device concurrency mechanism: two operations on the same
// (table, record_id) whose origin timestamps lie within the window are
// treated as concurrent.
type ConflictDetector struct {
	window time.Duration // default 60s
	scan   time.Duration // secondary best-effort scan, default 24h
}

func NewConflictDetector(windowSeconds, scanHours int) *ConflictDetector {
	return &ConflictDetector{
		window: time.Duration(windowSeconds) * time.Second,
		scan:   time.Duration(scanHours) * time.Hour,
	}
}

// Detect returns the colliding stored entry and the classified conflict
// kind, or (nil, "", nil) when the operation is clean. It must run inside
// the per-record lock held by the coordinator.
func (d *ConflictDetector) Detect(ctx context.Context, ops repository.OperationRepository, userID string, item *models.PushItem, deviceID string) (*models.OperationEntry, models.ConflictKind, error) {
	windowMs := d.window.Milliseconds()
	existing, err := ops.LatestForRecordBetween(ctx, userID, item.Table, item.RecordID, deviceID,
		item.Timestamp-windowMs, item.Timestamp+windowMs)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}

	return existing, classifyKind(item.Operation, existing.Operation), nil
}

// HasRecentConflict reports whether any conflict already exists for the
// record inside the scan window. Advisory only — used by status tooling,
// never as a correctness gate.
func (d *ConflictDetector) HasRecentConflict(ctx context.Context, conflicts repository.ConflictRepository, userID, table, recordID string) (bool, error) {
	return conflicts.ExistsForRecordSince(ctx, userID, table, recordID, time.Now().Add(-d.scan))
}

// classifyKind maps (incoming, stored) operation pairs to a conflict kind.
// Incoming is "local" in the conflict record, stored is "remote".
func classifyKind(local, remote models.SyncOperation) models.ConflictKind {
	switch {
	case local == models.OperationUpdate && remote == models.OperationUpdate:
		return models.ConflictConcurrentUpdate
	case local == models.OperationDelete && remote == models.OperationUpdate:
		return models.ConflictDeleteUpdate
	case local == models.OperationUpdate && remote == models.OperationDelete:
		return models.ConflictUpdateDelete
	case local == models.OperationCreate && remote == models.OperationCreate:
		// Offline-generated duplicate record ids get their own kind instead
		// of disappearing into the generic fallback.
		return models.ConflictDuplicateCreate
	default:
		return models.ConflictConcurrentUpdate
	}
}
