package service

import (
	"context"
	"sort"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// In-memory repositories backing the service tests. They implement the
// same not-found and ordering semantics as the GORM implementations.

type mockDeviceRepo struct {
	devices []*models.Device
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{}
}

func (m *mockDeviceRepo) FindByDeviceID(_ context.Context, deviceID string) (*models.Device, error) {
	for _, d := range m.devices {
		if d.DeviceID == deviceID {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockDeviceRepo) FindByDeviceAndUser(_ context.Context, deviceID, userID string) (*models.Device, error) {
	for _, d := range m.devices {
		if d.DeviceID == deviceID && d.UserID == userID {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockDeviceRepo) Create(_ context.Context, device *models.Device) error {
	m.devices = append(m.devices, device)
	return nil
}

func (m *mockDeviceRepo) Save(_ context.Context, device *models.Device) error {
	for i, d := range m.devices {
		if d.DeviceID == device.DeviceID && d.UserID == device.UserID {
			m.devices[i] = device
			return nil
		}
	}
	m.devices = append(m.devices, device)
	return nil
}

func (m *mockDeviceRepo) TouchLastSync(_ context.Context, deviceID, userID string, at time.Time) error {
	for _, d := range m.devices {
		if d.DeviceID == deviceID && d.UserID == userID {
			d.LastSync = &at
			d.IsActive = true
		}
	}
	return nil
}

func (m *mockDeviceRepo) AdvancePullCursor(_ context.Context, deviceID, userID string, ts int64) error {
	for _, d := range m.devices {
		if d.DeviceID == deviceID && d.UserID == userID && d.LastPulledTs < ts {
			d.LastPulledTs = ts
		}
	}
	return nil
}

func (m *mockDeviceRepo) List(_ context.Context, userID string, activeOnly bool) ([]*models.Device, error) {
	var out []*models.Device
	for _, d := range m.devices {
		if d.UserID != userID {
			continue
		}
		if activeOnly && !d.IsActive {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDeviceRepo) ListAll(_ context.Context) ([]*models.Device, error) {
	return m.devices, nil
}

func (m *mockDeviceRepo) ListActiveWithFCMToken(_ context.Context, userID, excludeDeviceID string) ([]*models.Device, error) {
	var out []*models.Device
	for _, d := range m.devices {
		if d.UserID == userID && d.DeviceID != excludeDeviceID && d.IsActive && d.FCMToken != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockOperationRepo struct {
	entries []*models.OperationEntry
}

func newMockOperationRepo() *mockOperationRepo {
	return &mockOperationRepo{}
}

func (m *mockOperationRepo) FindByOperationID(_ context.Context, operationID string) (*models.OperationEntry, error) {
	for _, e := range m.entries {
		if e.OperationID == operationID {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockOperationRepo) Create(_ context.Context, entry *models.OperationEntry) error {
	for _, e := range m.entries {
		if e.OperationID == entry.OperationID {
			return repository.ErrDuplicate
		}
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockOperationRepo) MarkResolved(_ context.Context, id uuid.UUID, payload datatypes.JSON, resolution string) error {
	for _, e := range m.entries {
		if e.ID == id {
			e.Status = models.StatusProcessed
			e.Payload = payload
			e.Resolution = &resolution
		}
	}
	return nil
}

func (m *mockOperationRepo) LatestForRecordBetween(_ context.Context, userID, table, recordID, excludeDeviceID string, fromTs, toTs int64) (*models.OperationEntry, error) {
	var latest *models.OperationEntry
	for _, e := range m.entries {
		if e.UserID != userID || e.Table != table || e.RecordID != recordID || e.DeviceID == excludeDeviceID {
			continue
		}
		if e.Timestamp < fromTs || e.Timestamp > toTs {
			continue
		}
		if latest == nil || e.Timestamp > latest.Timestamp {
			latest = e
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (m *mockOperationRepo) FindProcessedSince(_ context.Context, userID, excludeDeviceID string, sinceTs int64, limit int) ([]*models.OperationEntry, error) {
	var out []*models.OperationEntry
	for _, e := range m.entries {
		if e.UserID == userID && e.DeviceID != excludeDeviceID && e.Status == models.StatusProcessed && e.Timestamp > sinceTs {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockOperationRepo) CountProcessedSince(_ context.Context, userID, excludeDeviceID string, sinceTs int64) (int64, error) {
	var count int64
	for _, e := range m.entries {
		if e.UserID == userID && e.DeviceID != excludeDeviceID && e.Status == models.StatusProcessed && e.Timestamp > sinceTs {
			count++
		}
	}
	return count, nil
}

func (m *mockOperationRepo) FindProcessedOlderThan(_ context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]*models.OperationEntry, error) {
	var out []*models.OperationEntry
	for _, e := range m.entries {
		if e.Status == models.StatusProcessed && e.CreatedAt.Before(cutoff) && e.ID.String() > afterID.String() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockOperationRepo) DeleteProcessedOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []*models.OperationEntry
	var deleted int64
	for _, e := range m.entries {
		if e.Status == models.StatusProcessed && e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

type mockConflictRepo struct {
	conflicts []*models.Conflict
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{}
}

func (m *mockConflictRepo) Create(_ context.Context, conflict *models.Conflict) error {
	m.conflicts = append(m.conflicts, conflict)
	return nil
}

func (m *mockConflictRepo) FindByID(_ context.Context, id string) (*models.Conflict, error) {
	for _, c := range m.conflicts {
		if c.ID.String() == id {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockConflictRepo) ListByUser(_ context.Context, userID string, resolved *bool) ([]*models.Conflict, error) {
	var out []*models.Conflict
	for _, c := range m.conflicts {
		if c.UserID != userID {
			continue
		}
		if resolved != nil && c.Resolved != *resolved {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockConflictRepo) ListAll(_ context.Context, resolved *bool) ([]*models.Conflict, error) {
	var out []*models.Conflict
	for _, c := range m.conflicts {
		if resolved != nil && c.Resolved != *resolved {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockConflictRepo) ListUnresolved(_ context.Context) ([]*models.Conflict, error) {
	var out []*models.Conflict
	for _, c := range m.conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockConflictRepo) CountUnresolvedByUser(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, c := range m.conflicts {
		if c.UserID == userID && !c.Resolved {
			count++
		}
	}
	return count, nil
}

func (m *mockConflictRepo) Save(_ context.Context, conflict *models.Conflict) error {
	for i, c := range m.conflicts {
		if c.ID == conflict.ID {
			m.conflicts[i] = conflict
			return nil
		}
	}
	m.conflicts = append(m.conflicts, conflict)
	return nil
}

func (m *mockConflictRepo) ExistsForRecordSince(_ context.Context, userID, table, recordID string, since time.Time) (bool, error) {
	for _, c := range m.conflicts {
		if c.UserID == userID && c.Table == table && c.RecordID == recordID && c.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

type mockPolicyRepo struct {
	policies map[string]*models.TablePolicy
}

func newMockPolicyRepo() *mockPolicyRepo {
	return &mockPolicyRepo{policies: make(map[string]*models.TablePolicy)}
}

func (m *mockPolicyRepo) List(_ context.Context) ([]*models.TablePolicy, error) {
	var out []*models.TablePolicy
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, nil
}

func (m *mockPolicyRepo) Get(_ context.Context, table string) (*models.TablePolicy, error) {
	if p, ok := m.policies[table]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockPolicyRepo) Save(_ context.Context, policy *models.TablePolicy) error {
	m.policies[policy.Table] = policy
	return nil
}

type mockConfigRepo struct {
	values map[string]string
}

func newMockConfigRepo() *mockConfigRepo {
	return &mockConfigRepo{values: make(map[string]string)}
}

func (m *mockConfigRepo) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return "", repository.ErrNotFound
}

func (m *mockConfigRepo) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

// mockTxManager hands the same repositories back without a real
// transaction or lock; fine for single-goroutine tests. It records the
// lock keys it was asked for.
type mockTxManager struct {
	repos    *repository.Repositories
	lockKeys []string
}

func (m *mockTxManager) WithRecordLock(_ context.Context, table, recordID string, fn func(tx *repository.Repositories) error) error {
	m.lockKeys = append(m.lockKeys, table+"/"+recordID)
	return fn(m.repos)
}

func newTestRepos() *repository.Repositories {
	return &repository.Repositories{
		Devices:    newMockDeviceRepo(),
		Operations: newMockOperationRepo(),
		Conflicts:  newMockConflictRepo(),
		Policies:   newMockPolicyRepo(),
		Config:     newMockConfigRepo(),
	}
}

func newTestCoordinator(repos *repository.Repositories) *SyncCoordinator {
	s, _ := newTestCoordinatorWithTx(repos)
	return s
}

func newTestCoordinatorWithTx(repos *repository.Repositories) (*SyncCoordinator, *mockTxManager) {
	tx := &mockTxManager{repos: repos}
	devices := NewDeviceService(repos.Devices)
	detector := NewConflictDetector(60, 24)
	resolver := NewConflictResolver(60)
	return NewSyncCoordinator(repos, tx, devices, detector, resolver, 100), tx
}
