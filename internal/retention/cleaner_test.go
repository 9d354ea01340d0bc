package retention

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
)

// fakeOperationStore implements only what retention touches; anything
// else panics through the embedded nil interface.
type fakeOperationStore struct {
	repository.OperationRepository
	entries []*models.OperationEntry
}

func (f *fakeOperationStore) FindProcessedOlderThan(_ context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]*models.OperationEntry, error) {
	var out []*models.OperationEntry
	for _, e := range f.entries {
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

func (f *fakeOperationStore) DeleteProcessedOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []*models.OperationEntry
	var deleted int64
	for _, e := range f.entries {
		if e.Status == models.StatusProcessed && e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return deleted, nil
}

type fakeConfigStore struct {
	repository.SyncConfigRepository
	values map[string]string
}

func (f *fakeConfigStore) Set(_ context.Context, key, value string) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value
	return nil
}

// recordingArchiver counts how often each entry id is handed over.
type recordingArchiver struct {
	archived map[uuid.UUID]int
	batches  int
}

func (a *recordingArchiver) ArchiveOperationEntries(_ context.Context, entries []*models.OperationEntry) (string, error) {
	if a.archived == nil {
		a.archived = make(map[uuid.UUID]int)
	}
	for _, e := range entries {
		a.archived[e.ID]++
	}
	a.batches++
	return "oplog-archive/test.json.gz", nil
}

func TestRunCleanup_ArchivesEveryAgedEntryExactlyOnce(t *testing.T) {
	ops := &fakeOperationStore{}
	cfg := &fakeConfigStore{}

	// More aged rows than one archive batch, and every row sharing one
	// created_at, so batch boundaries fall between equal timestamps.
	aged := time.Now().AddDate(0, 0, -40)
	total := archiveBatchSize + archiveBatchSize/2
	for i := 0; i < total; i++ {
		ops.entries = append(ops.entries, &models.OperationEntry{
			ID:        uuid.New(),
			Status:    models.StatusProcessed,
			CreatedAt: aged,
		})
	}
	fresh := &models.OperationEntry{
		ID:        uuid.New(),
		Status:    models.StatusProcessed,
		CreatedAt: time.Now(),
	}
	ops.entries = append(ops.entries, fresh)

	archiver := &recordingArchiver{}
	cleaner := NewCleaner(&repository.Repositories{Operations: ops, Config: cfg}, archiver, nil, 30, 6)

	deleted, err := cleaner.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != int64(total) {
		t.Errorf("expected %d deleted, got %d", total, deleted)
	}
	if len(archiver.archived) != total {
		t.Fatalf("expected %d archived entries, got %d", total, len(archiver.archived))
	}
	for id, n := range archiver.archived {
		if n != 1 {
			t.Errorf("entry %s archived %d times", id, n)
		}
	}
	if archiver.batches < 2 {
		t.Errorf("expected multiple archive batches, got %d", archiver.batches)
	}

	// The fresh entry survives both archive and delete.
	if len(ops.entries) != 1 || ops.entries[0].ID != fresh.ID {
		t.Errorf("expected only the fresh entry to remain, got %d entries", len(ops.entries))
	}
	if archiver.archived[fresh.ID] != 0 {
		t.Error("fresh entry must not be archived")
	}
}

func TestRunCleanup_FailedArchiveBlocksDelete(t *testing.T) {
	ops := &fakeOperationStore{}
	aged := time.Now().AddDate(0, 0, -40)
	ops.entries = append(ops.entries, &models.OperationEntry{
		ID:        uuid.New(),
		Status:    models.StatusProcessed,
		CreatedAt: aged,
	})

	cleaner := NewCleaner(&repository.Repositories{Operations: ops, Config: &fakeConfigStore{}}, failingArchiver{}, nil, 30, 6)

	if _, err := cleaner.RunCleanup(context.Background()); err == nil {
		t.Fatal("expected cleanup to fail when the archive fails")
	}
	if len(ops.entries) != 1 {
		t.Error("nothing may be deleted when the archive failed")
	}
}

type failingArchiver struct{}

func (failingArchiver) ArchiveOperationEntries(context.Context, []*models.OperationEntry) (string, error) {
	return "", errors.New("bucket unavailable")
}
