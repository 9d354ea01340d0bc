package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChangeNotifier is told after a push applied at least one operation so
// the user's other devices can pull promptly. Implementations must not
// block the push path.
type ChangeNotifier interface {
	NotifyChanges(userID, originDeviceID string)
}

// SyncCoordinator orchestrates push (ingest) and pull (replay) over the
// device registry, operation log, detector and resolver.
type SyncCoordinator struct {
	repos     *repository.Repositories
	tx        repository.TxManager
	devices   *DeviceService
	detector  *ConflictDetector
	resolver  *ConflictResolver
	pullLimit int
	notifier  ChangeNotifier // optional
}

func NewSyncCoordinator(
	repos *repository.Repositories,
	tx repository.TxManager,
	devices *DeviceService,
	detector *ConflictDetector,
	resolver *ConflictResolver,
	pullLimit int,
) *SyncCoordinator {
	return &SyncCoordinator{
		repos:     repos,
		tx:        tx,
		devices:   devices,
		detector:  detector,
		resolver:  resolver,
		pullLimit: pullLimit,
	}
}

func (s *SyncCoordinator) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// Push ingests a batch of device-recorded operations. Items are processed
// independently in submitted order; one item's failure never aborts the
// batch. The device's last_sync advances once after the batch regardless
// of individual outcomes.
func (s *SyncCoordinator) Push(ctx context.Context, deviceID, userID string, req *models.PushRequest) (*models.PushResult, error) {
	if _, err := s.devices.Ensure(ctx, deviceID, userID); err != nil {
		// A device id owned by another user is a hard failure for the call.
		return nil, err
	}

	result := &models.PushResult{
		Conflicts: []*models.Conflict{},
		Errors:    []models.PushItemError{},
	}

	for i := range req.Operations {
		item := &req.Operations[i]

		if err := validateItem(item); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, models.PushItemError{
				OperationID: item.OperationID,
				Error:       err.Error(),
			})
			continue
		}

		conflict, err := s.pushOne(ctx, deviceID, userID, item)
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, models.PushItemError{
				OperationID: item.OperationID,
				Error:       err.Error(),
			})
			log.Printf("❌ [PUSH] Item %s failed: %v", item.OperationID, err)
			continue
		}

		result.ProcessedCount++
		if conflict != nil {
			result.Conflicts = append(result.Conflicts, conflict)
		}
	}

	// Heartbeat semantics piggy-backed on push.
	if err := s.devices.Heartbeat(ctx, deviceID, userID); err != nil {
		log.Printf("⚠️ [PUSH] Failed to advance last_sync for %s: %v", deviceID, err)
	}

	if s.notifier != nil && result.ProcessedCount > 0 {
		s.notifier.NotifyChanges(userID, deviceID)
	}

	return result, nil
}

// pushOne runs the idempotency check and the atomic
// check-conflict-then-append for a single item. The returned conflict is
// nil when the item applied cleanly or was a duplicate.
func (s *SyncCoordinator) pushOne(ctx context.Context, deviceID, userID string, item *models.PushItem) (*models.Conflict, error) {
	// Idempotency: a known operation id is already-successful, nothing is
	// reapplied.
	existing, err := s.repos.Operations.FindByOperationID(ctx, item.OperationID)
	if err == nil && existing != nil {
		return nil, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, &StorageError{Op: "idempotency lookup", Err: err}
	}

	var conflict *models.Conflict

	apply := func() error {
		conflict = nil
		return s.tx.WithRecordLock(ctx, item.Table, item.RecordID, func(tx *repository.Repositories) error {
			colliding, kind, err := s.detector.Detect(ctx, tx.Operations, userID, item, deviceID)
			if err != nil {
				return err
			}

			entry, err := buildEntry(deviceID, userID, item)
			if err != nil {
				return err
			}

			if colliding == nil {
				// Best-effort secondary scan: a record that conflicted in the
				// last day is worth flagging even when this write is clean.
				if recent, serr := s.detector.HasRecentConflict(ctx, tx.Conflicts, userID, item.Table, item.RecordID); serr == nil && recent {
					log.Printf("⚠️ [PUSH] %s/%s had a conflict inside the scan window; applying %s anyway",
						item.Table, item.RecordID, item.OperationID)
				}
				entry.Status = models.StatusProcessed
				return tx.Operations.Create(ctx, entry)
			}

			entry.Status = models.StatusConflict
			if err := tx.Operations.Create(ctx, entry); err != nil {
				return err
			}

			c := &models.Conflict{
				ID:               uuid.New(),
				OperationEntryID: entry.ID,
				UserID:           userID,
				Table:            item.Table,
				RecordID:         item.RecordID,
				Kind:             kind,
				LocalPayload:     entry.Payload,
				LocalTimestamp:   entry.Timestamp,
				LocalDeviceID:    deviceID,
				RemotePayload:    colliding.Payload,
				RemoteTimestamp:  colliding.Timestamp,
				RemoteDeviceID:   colliding.DeviceID,
			}
			if err := tx.Conflicts.Create(ctx, c); err != nil {
				return err
			}

			// Try the table's configured strategy; anything ambiguous stays
			// pending for an operator.
			if err := s.tryAutoResolve(ctx, tx, c); err != nil {
				return err
			}

			conflict = c
			return nil
		})
	}

	// Transient storage failures are retried at most once inline; the whole
	// push is safe to retry later thanks to idempotency.
	if err := apply(); err != nil {
		// Two first-time pushes of the same operation id can race past the
		// lookup above; the loser of the unique index is a duplicate, not a
		// failure.
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil
		}
		log.Printf("⚠️ [PUSH] Retrying item %s after: %v", item.OperationID, err)
		if err := apply(); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, nil
			}
			return nil, &StorageError{Op: "append", Err: err}
		}
	}

	if conflict != nil {
		log.Printf("⚔️ [CONFLICT] %s on %s/%s between %s and %s (resolved=%v)",
			conflict.Kind, conflict.Table, conflict.RecordID,
			conflict.LocalDeviceID, conflict.RemoteDeviceID, conflict.Resolved)
	}
	return conflict, nil
}

// tryAutoResolve applies the table's default strategy when it yields an
// unambiguous result. Conflicts that require judgment stay unresolved.
func (s *SyncCoordinator) tryAutoResolve(ctx context.Context, tx *repository.Repositories, c *models.Conflict) error {
	strategy := s.resolver.DefaultStrategy(c.Table)
	if strategy == models.ResolutionManual {
		return nil
	}

	res, err := s.resolver.Resolve(c, strategy, nil)
	if err != nil || res.RequiresManual {
		return nil
	}

	return applyResolution(ctx, tx, c, res, "auto")
}

// ResolveConflict is the explicit operator action. It fails when the
// conflict is absent, already resolved, or the strategy stays ambiguous.
func (s *SyncCoordinator) ResolveConflict(ctx context.Context, conflictID, userID string, req *models.ResolveConflictRequest) (*models.Conflict, error) {
	if !models.IsValidResolution(req.Resolution) {
		return nil, &ValidationError{Field: "resolution", Reason: "unknown strategy " + string(req.Resolution)}
	}

	c, err := s.repos.Conflicts.FindByID(ctx, conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrConflictNotFound
	}
	if c.Resolved {
		return nil, &ValidationError{Field: "conflict_id", Reason: "conflict already resolved"}
	}

	res, err := s.resolver.Resolve(c, req.Resolution, req.ResolvedData)
	if err != nil {
		return nil, err
	}
	if res.RequiresManual {
		return nil, &ResolutionError{Reason: res.Reason}
	}

	// Same lock as the push path, so a concurrent push on the record sees
	// either the unresolved or the fully resolved conflict, never half of
	// the two writes.
	err = s.tx.WithRecordLock(ctx, c.Table, c.RecordID, func(tx *repository.Repositories) error {
		return applyResolution(ctx, tx, c, res, userID)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ [CONFLICT] %s resolved via %s by %s", c.ID, res.Strategy, userID)
	return c, nil
}

// applyResolution is the single auditable write path for a resolution:
// the triggering entry becomes processed with the resolved payload and
// tag, and the conflict records who resolved it and when.
func applyResolution(ctx context.Context, repos *repository.Repositories, c *models.Conflict, res *Resolution, resolvedBy string) error {
	payload, err := encodePayload(res.Payload)
	if err != nil {
		return err
	}

	if err := repos.Operations.MarkResolved(ctx, c.OperationEntryID, payload, string(res.Strategy)); err != nil {
		return err
	}

	now := time.Now()
	strategy := res.Strategy
	c.Resolved = true
	c.Resolution = &strategy
	c.ResolvedData = payload
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &now
	return repos.Conflicts.Save(ctx, c)
}

// Pull replays other-device processed entries after the cursor, ascending
// by origin timestamp, hard-capped. Registration is the only side effect
// on this path.
func (s *SyncCoordinator) Pull(ctx context.Context, deviceID, userID string, sinceTs int64) (*models.PullResponse, error) {
	if _, err := s.devices.Ensure(ctx, deviceID, userID); err != nil {
		return nil, err
	}

	entries, err := s.repos.Operations.FindProcessedSince(ctx, userID, deviceID, sinceTs, s.pullLimit+1)
	if err != nil {
		return nil, &StorageError{Op: "pull", Err: err}
	}

	hasMore := false
	if len(entries) > s.pullLimit {
		hasMore = true
		entries = entries[:s.pullLimit]
	}

	items := make([]models.PullItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, models.PullItem{
			Table:     e.Table,
			RecordID:  e.RecordID,
			Operation: e.Operation,
			Data:      e.Payload,
			Timestamp: e.Timestamp,
		})
	}

	// The delivered-up-to cursor is kept in origin-timestamp space, the same
	// space the entries are ordered by, so device clock skew never hides a
	// backlog from Status. Entries are ascending, so the last one is the max.
	if len(items) > 0 {
		newest := items[len(items)-1].Timestamp
		if err := s.repos.Devices.AdvancePullCursor(ctx, deviceID, userID, newest); err != nil {
			log.Printf("⚠️ [PULL] Failed to advance pull cursor for %s: %v", deviceID, err)
		}
	}

	return &models.PullResponse{Items: items, HasMore: hasMore}, nil
}

// Status reports the device's sync position: backlog size, unresolved
// conflicts, last sync time.
func (s *SyncCoordinator) Status(ctx context.Context, deviceID, userID string) (*models.SyncStatus, error) {
	device, err := s.repos.Devices.FindByDeviceAndUser(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	// Backlog is counted from the pull cursor, not last_sync: last_sync is
	// server wall clock while entry timestamps are device clocks, and the
	// two are not comparable.
	pending, err := s.repos.Operations.CountProcessedSince(ctx, userID, deviceID, device.LastPulledTs)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.repos.Conflicts.CountUnresolvedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.SyncStatus{
		PendingOperations: pending,
		Conflicts:         conflicts,
		LastSync:          device.LastSync,
	}, nil
}

// ListConflicts returns the caller's unresolved conflicts.
func (s *SyncCoordinator) ListConflicts(ctx context.Context, userID string) ([]*models.Conflict, error) {
	unresolved := false
	return s.repos.Conflicts.ListByUser(ctx, userID, &unresolved)
}

// ListAllConflicts is the operator view across every user, optionally
// filtered by the resolved flag.
func (s *SyncCoordinator) ListAllConflicts(ctx context.Context, resolved *bool) ([]*models.Conflict, error) {
	return s.repos.Conflicts.ListAll(ctx, resolved)
}

// ListPolicies returns the per-table default resolution strategies.
func (s *SyncCoordinator) ListPolicies(ctx context.Context) ([]*models.TablePolicy, error) {
	return s.repos.Policies.List(ctx)
}

// UpdatePolicy persists a table's default strategy and makes the running
// resolver pick it up immediately.
func (s *SyncCoordinator) UpdatePolicy(ctx context.Context, table string, req *models.UpdateTablePolicyRequest) (*models.TablePolicy, error) {
	if !models.IsSyncableTable(table) {
		return nil, &ValidationError{Field: "table", Reason: fmt.Sprintf("%q is not syncable", table)}
	}
	if !models.IsValidResolution(req.DefaultStrategy) {
		return nil, &ValidationError{Field: "default_strategy", Reason: "unknown strategy " + string(req.DefaultStrategy)}
	}

	policy, err := s.repos.Policies.Get(ctx, table)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		policy = &models.TablePolicy{Table: table}
	}
	policy.DefaultStrategy = req.DefaultStrategy
	if req.Description != nil {
		policy.Description = *req.Description
	}
	if err := s.repos.Policies.Save(ctx, policy); err != nil {
		return nil, err
	}

	s.resolver.SetPolicy(table, req.DefaultStrategy)
	log.Printf("🔧 [POLICY] %s default strategy set to %s", table, req.DefaultStrategy)
	return policy, nil
}

// Recommend returns the advisory resolution suggestion for a conflict.
func (s *SyncCoordinator) Recommend(ctx context.Context, conflictID string) (*models.Recommendation, error) {
	c, err := s.repos.Conflicts.FindByID(ctx, conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	rec := s.resolver.Recommend(c)
	return &rec, nil
}

func validateItem(item *models.PushItem) error {
	if item.OperationID == "" {
		return &ValidationError{Field: "operation_id", Reason: "required"}
	}
	if !models.IsSyncableTable(item.Table) {
		return &ValidationError{Field: "table", Reason: fmt.Sprintf("%q is not syncable", item.Table)}
	}
	if !models.IsValidOperation(item.Operation) {
		return &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", item.Operation)}
	}
	if item.RecordID == "" {
		return &ValidationError{Field: "record_id", Reason: "required"}
	}
	if item.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Reason: "must be a positive ms epoch"}
	}
	if item.Operation != models.OperationDelete && len(item.Data) == 0 {
		return &ValidationError{Field: "data", Reason: "required for CREATE and UPDATE"}
	}
	return nil
}

func buildEntry(deviceID, userID string, item *models.PushItem) (*models.OperationEntry, error) {
	payload, err := encodePayload(item.Data)
	if err != nil {
		return nil, err
	}
	return &models.OperationEntry{
		ID:          uuid.New(),
		OperationID: item.OperationID,
		UserID:      userID,
		DeviceID:    deviceID,
		Table:       item.Table,
		RecordID:    item.RecordID,
		Operation:   item.Operation,
		Payload:     payload,
		Timestamp:   item.Timestamp,
		Status:      models.StatusPending,
	}, nil
}

func encodePayload(data map[string]interface{}) (datatypes.JSON, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}
