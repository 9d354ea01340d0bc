package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
)

func pushItem(opID, table, recordID string, op models.SyncOperation, data map[string]interface{}, ts int64) models.PushItem {
	return models.PushItem{
		OperationID: opID,
		Table:       table,
		RecordID:    recordID,
		Operation:   op,
		Data:        data,
		Timestamp:   ts,
	}
}

func TestSyncCoordinator_PushClean(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)

	result, err := coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-1", models.TableEquipment, "E1", models.OperationCreate,
				map[string]interface{}{"name": "Forklift"}, 1_700_000_000_000),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ProcessedCount != 1 || result.FailedCount != 0 || len(result.Conflicts) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	entry, err := repos.Operations.FindByOperationID(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("expected entry to be stored, got %v", err)
	}
	if entry.Status != models.StatusProcessed {
		t.Errorf("clean entry should be processed, got %s", entry.Status)
	}

	device, err := repos.Devices.FindByDeviceAndUser(context.Background(), "device-a", "user1")
	if err != nil {
		t.Fatalf("expected device to be auto-registered, got %v", err)
	}
	if device.LastSync == nil {
		t.Error("push must advance last_sync")
	}
}

func TestSyncCoordinator_PushIsIdempotent(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)

	req := &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-1", models.TableEquipment, "E1", models.OperationUpdate,
				map[string]interface{}{"status": "active"}, 1_700_000_000_000),
		},
	}

	for i := 0; i < 3; i++ {
		result, err := coordinator.Push(context.Background(), "device-a", "user1", req)
		if err != nil {
			t.Fatalf("push %d: expected no error, got %v", i, err)
		}
		if result.ProcessedCount != 1 {
			t.Errorf("push %d: retried item must still report success, got %+v", i, result)
		}
	}

	ops := repos.Operations.(*mockOperationRepo)
	if len(ops.entries) != 1 {
		t.Errorf("expected exactly one stored entry after retries, got %d", len(ops.entries))
	}
}

func TestSyncCoordinator_PushDetectsConflict(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)
	base := int64(1_700_000_000_000)

	// Device B's update lands first.
	_, err := coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b1", models.TableEquipment, "E1", models.OperationUpdate,
				map[string]interface{}{"status": "maintenance"}, base),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Device A touches the same record 30s later — inside the window.
	result, err := coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-a1", models.TableEquipment, "E1", models.OperationUpdate,
				map[string]interface{}{"status": "active"}, base+30_000),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}

	c := result.Conflicts[0]
	if c.Kind != models.ConflictConcurrentUpdate {
		t.Errorf("expected concurrent_update, got %s", c.Kind)
	}
	if c.LocalDeviceID != "device-a" || c.RemoteDeviceID != "device-b" {
		t.Errorf("sides mislabeled: local=%s remote=%s", c.LocalDeviceID, c.RemoteDeviceID)
	}

	// Default policy is last_wins and the timestamps differ, so the
	// conflict auto-resolves to the later side.
	if !c.Resolved {
		t.Fatal("expected auto-resolution under last_wins")
	}
	var resolved map[string]interface{}
	if err := json.Unmarshal(c.ResolvedData, &resolved); err != nil {
		t.Fatalf("bad resolved data: %v", err)
	}
	if resolved["status"] != "active" {
		t.Errorf("expected the later write to win, got %v", resolved)
	}

	entry, _ := repos.Operations.FindByOperationID(context.Background(), "op-a1")
	if entry.Status != models.StatusProcessed {
		t.Errorf("resolved entry should be processed, got %s", entry.Status)
	}
}

func TestSyncCoordinator_EqualTimestampsStayUnresolved(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)
	base := int64(1_700_000_000_000)

	coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b1", models.TableCategories, "C1", models.OperationUpdate,
				map[string]interface{}{"name": "Tools"}, base),
		},
	})

	result, err := coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-a1", models.TableCategories, "C1", models.OperationUpdate,
				map[string]interface{}{"name": "Hand Tools"}, base),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}
	if result.Conflicts[0].Resolved {
		t.Error("equal timestamps must stay unresolved for an operator")
	}
}

func TestSyncCoordinator_MergedPolicyAutoResolves(t *testing.T) {
	repos := newTestRepos()
	devices := NewDeviceService(repos.Devices)
	detector := NewConflictDetector(60, 24)
	resolver := NewConflictResolver(60)
	resolver.SetPolicy(models.TableEquipment, models.ResolutionMerged)
	coordinator := NewSyncCoordinator(repos, &mockTxManager{repos: repos}, devices, detector, resolver, 100)
	base := int64(1_700_000_000_000)

	// Device A changes status, device B moves the equipment, both offline.
	coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-a1", models.TableEquipment, "E1", models.OperationUpdate,
				map[string]interface{}{"status": "maintenance"}, base),
		},
	})
	result, err := coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b1", models.TableEquipment, "E1", models.OperationUpdate,
				map[string]interface{}{"location_id": "L7"}, base+10_000),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Conflicts) != 1 || !result.Conflicts[0].Resolved {
		t.Fatalf("expected an auto-merged conflict, got %+v", result.Conflicts)
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(result.Conflicts[0].ResolvedData, &merged); err != nil {
		t.Fatalf("bad resolved data: %v", err)
	}
	if merged["status"] != "maintenance" || merged["location_id"] != "L7" {
		t.Errorf("both changes must survive the merge, got %v", merged)
	}
}

func TestSyncCoordinator_BatchIsolatesFailures(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)
	base := int64(1_700_000_000_000)

	result, err := coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-1", models.TableEquipment, "E1", models.OperationCreate,
				map[string]interface{}{"name": "Pallet Jack"}, base),
			pushItem("op-2", "not_a_table", "X1", models.OperationCreate,
				map[string]interface{}{"name": "bogus"}, base+1),
			pushItem("op-3", models.TableLocations, "L1", models.OperationCreate,
				map[string]interface{}{"name": "Dock 2"}, base+2),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ProcessedCount != 2 || result.FailedCount != 1 {
		t.Fatalf("expected 2 processed / 1 failed, got %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].OperationID != "op-2" {
		t.Errorf("expected op-2 to be the failed item, got %+v", result.Errors)
	}
}

func TestSyncCoordinator_PullFiltersAndOrders(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)
	base := int64(1_700_000_000_000)

	coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b2", models.TableEquipment, "E2", models.OperationUpdate,
				map[string]interface{}{"status": "active"}, base+200_000),
			pushItem("op-b1", models.TableEquipment, "E1", models.OperationCreate,
				map[string]interface{}{"name": "Crane"}, base+100_000),
		},
	})
	// Device A's own push must never come back to it.
	coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-a1", models.TableEquipment, "E3", models.OperationCreate,
				map[string]interface{}{"name": "Drill"}, base+150_000),
		},
	})

	resp, err := coordinator.Pull(context.Background(), "device-a", "user1", base)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].Timestamp >= resp.Items[1].Timestamp {
		t.Error("pull must be ascending by origin timestamp")
	}
	for _, item := range resp.Items {
		if item.RecordID == "E3" {
			t.Error("a device must never pull its own operations")
		}
	}
	if resp.HasMore {
		t.Error("expected no further pages")
	}
}

func TestSyncCoordinator_PullPagesWithoutOverlap(t *testing.T) {
	repos := newTestRepos()
	devices := NewDeviceService(repos.Devices)
	detector := NewConflictDetector(60, 24)
	resolver := NewConflictResolver(60)
	coordinator := NewSyncCoordinator(repos, &mockTxManager{repos: repos}, devices, detector, resolver, 2)
	base := int64(1_700_000_000_000)

	// Five processed entries from device B, spaced apart so no conflicts.
	for i := 0; i < 5; i++ {
		ts := base + int64(i)*120_000
		coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
			Operations: []models.PushItem{
				pushItem(uuid.NewString(), models.TableStacks, "S1", models.OperationUpdate,
					map[string]interface{}{"height": i}, ts),
			},
		})
	}

	seen := make(map[int64]bool)
	cursor := int64(0)
	pages := 0
	for {
		resp, err := coordinator.Pull(context.Background(), "device-a", "user1", cursor)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		for _, item := range resp.Items {
			if seen[item.Timestamp] {
				t.Fatalf("timestamp %d delivered twice", item.Timestamp)
			}
			seen[item.Timestamp] = true
			cursor = item.Timestamp
		}
		pages++
		if !resp.HasMore {
			break
		}
		if pages > 10 {
			t.Fatal("paging never terminated")
		}
	}

	if len(seen) != 5 {
		t.Errorf("expected all 5 entries across pages, got %d", len(seen))
	}
	if pages != 3 {
		t.Errorf("expected 3 pages at limit 2, got %d", pages)
	}
}

func TestSyncCoordinator_Status(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)

	// Device A registers; its last_sync is server wall clock "now".
	coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{},
	})

	// Device B's clock runs five minutes behind the server, so the entry's
	// origin timestamp predates A's last_sync. The backlog must not care.
	skewed := time.Now().Add(-5 * time.Minute).UnixMilli()
	coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b1", models.TableEquipment, "E1", models.OperationCreate,
				map[string]interface{}{"name": "Crane"}, skewed),
		},
	})

	status, err := coordinator.Status(context.Background(), "device-a", "user1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status.PendingOperations != 1 {
		t.Errorf("expected 1 pending operation, got %d", status.PendingOperations)
	}
	if status.Conflicts != 0 {
		t.Errorf("expected no conflicts, got %d", status.Conflicts)
	}
	if status.LastSync == nil {
		t.Error("expected last_sync to be set")
	}

	// Pulling advances the delivered-up-to cursor and clears the backlog.
	resp, err := coordinator.Pull(context.Background(), "device-a", "user1", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}

	status, err = coordinator.Status(context.Background(), "device-a", "user1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status.PendingOperations != 0 {
		t.Errorf("expected empty backlog after pull, got %d", status.PendingOperations)
	}
}

func TestSyncCoordinator_ResolveConflictManually(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)
	base := int64(1_700_000_000_000)

	coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b1", models.TableUsers, "U1", models.OperationUpdate,
				map[string]interface{}{"role": "admin"}, base),
		},
	})
	result, _ := coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-a1", models.TableUsers, "U1", models.OperationUpdate,
				map[string]interface{}{"role": "operator"}, base),
		},
	})
	conflictID := result.Conflicts[0].ID.String()

	// Wrong user never sees the conflict.
	if _, err := coordinator.ResolveConflict(context.Background(), conflictID, "user2", &models.ResolveConflictRequest{
		Resolution: models.ResolutionLocalWins,
	}); err != ErrConflictNotFound {
		t.Errorf("expected ErrConflictNotFound for foreign user, got %v", err)
	}

	resolved, err := coordinator.ResolveConflict(context.Background(), conflictID, "user1", &models.ResolveConflictRequest{
		Resolution:   models.ResolutionManual,
		ResolvedData: map[string]interface{}{"role": "operator"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !resolved.Resolved || resolved.Resolution == nil || *resolved.Resolution != models.ResolutionManual {
		t.Fatalf("conflict not marked resolved: %+v", resolved)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "user1" {
		t.Errorf("expected resolver identity to be recorded, got %v", resolved.ResolvedBy)
	}

	// Resolving twice is rejected.
	if _, err := coordinator.ResolveConflict(context.Background(), conflictID, "user1", &models.ResolveConflictRequest{
		Resolution:   models.ResolutionManual,
		ResolvedData: map[string]interface{}{"role": "admin"},
	}); err == nil {
		t.Error("expected error on double resolution")
	}

	unresolved, _ := coordinator.ListConflicts(context.Background(), "user1")
	if len(unresolved) != 0 {
		t.Errorf("expected no unresolved conflicts, got %d", len(unresolved))
	}
}

func TestSyncCoordinator_ResolveConflictHoldsRecordLock(t *testing.T) {
	repos := newTestRepos()
	coordinator, tx := newTestCoordinatorWithTx(repos)
	base := int64(1_700_000_000_000)

	coordinator.Push(context.Background(), "device-b", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-b1", models.TableUsers, "U1", models.OperationUpdate,
				map[string]interface{}{"role": "admin"}, base),
		},
	})
	result, _ := coordinator.Push(context.Background(), "device-a", "user1", &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-a1", models.TableUsers, "U1", models.OperationUpdate,
				map[string]interface{}{"role": "operator"}, base),
		},
	})
	conflictID := result.Conflicts[0].ID.String()
	locksBefore := len(tx.lockKeys)

	_, err := coordinator.ResolveConflict(context.Background(), conflictID, "user1", &models.ResolveConflictRequest{
		Resolution:   models.ResolutionManual,
		ResolvedData: map[string]interface{}{"role": "operator"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// The conflict and entry writes must happen under the same record lock
	// the push path takes, not as two bare updates.
	if len(tx.lockKeys) != locksBefore+1 {
		t.Fatalf("expected one record lock during resolution, got %d", len(tx.lockKeys)-locksBefore)
	}
	if got := tx.lockKeys[len(tx.lockKeys)-1]; got != models.TableUsers+"/U1" {
		t.Errorf("expected lock on users/U1, got %s", got)
	}
}

// unsyncedLookupOps simulates the window where two first-time pushes of
// the same operation id both pass the idempotency lookup before either
// insert commits.
type unsyncedLookupOps struct {
	repository.OperationRepository
}

func (o *unsyncedLookupOps) FindByOperationID(context.Context, string) (*models.OperationEntry, error) {
	return nil, repository.ErrNotFound
}

func TestSyncCoordinator_DuplicateInsertRaceReportsSuccess(t *testing.T) {
	repos := newTestRepos()
	repos.Operations = &unsyncedLookupOps{OperationRepository: repos.Operations}
	coordinator := newTestCoordinator(repos)

	req := &models.PushRequest{
		Operations: []models.PushItem{
			pushItem("op-1", models.TableEquipment, "E1", models.OperationCreate,
				map[string]interface{}{"name": "Forklift"}, 1_700_000_000_000),
		},
	}

	for i := 0; i < 2; i++ {
		result, err := coordinator.Push(context.Background(), "device-a", "user1", req)
		if err != nil {
			t.Fatalf("push %d: expected no error, got %v", i, err)
		}
		// The loser of the unique index is a duplicate of an applied item
		// and must report success, not failure.
		if result.ProcessedCount != 1 || result.FailedCount != 0 {
			t.Errorf("push %d: expected duplicate to count as processed, got %+v", i, result)
		}
	}

	ops := repos.Operations.(*unsyncedLookupOps).OperationRepository.(*mockOperationRepo)
	if len(ops.entries) != 1 {
		t.Errorf("expected exactly one stored entry, got %d", len(ops.entries))
	}
}

func TestSyncCoordinator_UpdatePolicy(t *testing.T) {
	repos := newTestRepos()
	coordinator := newTestCoordinator(repos)

	policy, err := coordinator.UpdatePolicy(context.Background(), models.TableStacks, &models.UpdateTablePolicyRequest{
		DefaultStrategy: models.ResolutionMerged,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if policy.DefaultStrategy != models.ResolutionMerged {
		t.Errorf("expected merged, got %s", policy.DefaultStrategy)
	}

	if _, err := coordinator.UpdatePolicy(context.Background(), "not_a_table", &models.UpdateTablePolicyRequest{
		DefaultStrategy: models.ResolutionMerged,
	}); err == nil {
		t.Error("expected error for an unknown table")
	}
}
