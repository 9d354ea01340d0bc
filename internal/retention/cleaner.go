package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"warehouse-sync-service/internal/email"
	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"github.com/google/uuid"
)

const (
	lastCleanupKey = "last_cleanup_time"
	lastDigestKey  = "last_digest_time"

	archiveBatchSize = 1000
)

// Archiver persists a batch of aged entries somewhere durable before
// retention deletes them. *utils.ArchiveR2Client is the production
// implementation.
type Archiver interface {
	ArchiveOperationEntries(ctx context.Context, entries []*models.OperationEntry) (string, error)
}

// Cleaner enforces the operation-log retention policy: processed entries
// older than the threshold are archived (when R2 is configured) and then
// deleted. It also mails the daily unresolved-conflict digest.
type Cleaner struct {
	repos           *repository.Repositories
	archive         Archiver      // nil disables archival
	sender          *email.Sender // nil disables the digest
	retentionDays   int
	cleanupInterval time.Duration
}

func NewCleaner(repos *repository.Repositories, archive Archiver, sender *email.Sender, retentionDays, intervalHours int) *Cleaner {
	return &Cleaner{
		repos:           repos,
		archive:         archive,
		sender:          sender,
		retentionDays:   retentionDays,
		cleanupInterval: time.Duration(intervalHours) * time.Hour,
	}
}

// StartScheduler launches the background loops. Call once from main.
func (c *Cleaner) StartScheduler() {
	go c.scheduleCleanup()
	if c.sender != nil {
		go c.scheduleDigest()
	}
}

func (c *Cleaner) scheduleCleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if _, err := c.RunCleanup(ctx); err != nil {
			log.Printf("❌ [RETENTION] Cleanup failed: %v", err)
		}
		cancel()
	}
}

func (c *Cleaner) scheduleDigest() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := c.SendDigest(ctx); err != nil {
			log.Printf("⚠️ [DIGEST] Digest failed: %v", err)
		}
		cancel()
	}
}

// RunCleanup archives and deletes processed entries past the retention
// age, returning the number of deleted rows. Only status=processed rows
// are ever touched — pending, failed and conflict entries survive.
func (c *Cleaner) RunCleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -c.retentionDays)
	log.Printf("🧹 [RETENTION] Cleaning processed entries older than %s", cutoff.Format(time.RFC3339))

	if c.archive != nil {
		if err := c.archiveAged(ctx, cutoff); err != nil {
			// Retention must not delete what it failed to archive.
			return 0, fmt.Errorf("archive before delete failed: %w", err)
		}
	}

	deleted, err := c.repos.Operations.DeleteProcessedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if err := c.repos.Config.Set(ctx, lastCleanupKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("⚠️ [RETENTION] Failed to record last cleanup time: %v", err)
	}

	log.Printf("✅ [RETENTION] Deleted %d aged entries", deleted)
	return deleted, nil
}

// archiveAged walks every aged row with a strict id keyset, so rows that
// share a created_at are never lost across batch boundaries. Nothing is
// deleted here; RunCleanup deletes once after every batch is archived.
func (c *Cleaner) archiveAged(ctx context.Context, cutoff time.Time) error {
	afterID := uuid.Nil
	for {
		batch, err := c.repos.Operations.FindProcessedOlderThan(ctx, cutoff, afterID, archiveBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		key, err := c.archive.ArchiveOperationEntries(ctx, batch)
		if err != nil {
			return err
		}
		log.Printf("📦 [RETENTION] Archived %d entries → %s", len(batch), key)

		afterID = batch[len(batch)-1].ID
	}
}

// SendDigest mails the current unresolved conflicts to the ops address.
func (c *Cleaner) SendDigest(ctx context.Context) error {
	conflicts, err := c.repos.Conflicts.ListUnresolved(ctx)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		log.Println("✅ [DIGEST] No unresolved conflicts, skipping digest")
		return nil
	}

	if err := c.sender.SendConflictDigest(conflicts); err != nil {
		return err
	}

	return c.repos.Config.Set(ctx, lastDigestKey, time.Now().UTC().Format(time.RFC3339))
}
