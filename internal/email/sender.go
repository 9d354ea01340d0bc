// internal/email/sender.go
package email

import (
	"context"
	"fmt"
	"log"
	"time"

	"warehouse-sync-service/internal/config"
	"warehouse-sync-service/internal/email/templates"
	"warehouse-sync-service/pkg/models"

	"gopkg.in/gomail.v2"
)

type Sender struct {
	cfg *config.Config
}

func NewSender(cfg *config.Config) *Sender {
	return &Sender{cfg: cfg}
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	log.Printf("📧 [SEND] To: %s | Subject: %s", to, subject)

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	dialer := gomail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass)

	// Exponential backoff: 1s, 2s, 4s → max 3 retries
	for attempt := 0; attempt < 3; attempt++ {
		if err := dialer.DialAndSend(m); err != nil {
			delay := time.Duration(1<<attempt) * time.Second
			log.Printf("❌ [ATTEMPT %d] Failed to send email to %s: %v → retrying in %v", attempt+1, to, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("email send cancelled: %w", ctx.Err())
			}
			continue
		}
		log.Printf("✅ [SUCCESS] Email sent to %s (Subject: %s)", to, subject)
		return nil
	}

	log.Printf("💥 [FAILED] All retries exhausted for %s", to)
	return fmt.Errorf("failed to send email to %s after 3 attempts", to)
}

// SendConflictDigest renders and queues the unresolved-conflict digest for
// the ops address. A nil/empty conflict list sends nothing.
func (s *Sender) SendConflictDigest(conflicts []*models.Conflict) error {
	if s.cfg.OpsAlertEmail == "" || len(conflicts) == 0 {
		return nil
	}

	rows := make([]templates.ConflictRow, 0, len(conflicts))
	for _, c := range conflicts {
		rows = append(rows, templates.ConflictRow{
			Table:      c.Table,
			RecordID:   c.RecordID,
			Kind:       string(c.Kind),
			DetectedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	body, err := templates.RenderConflictDigest(templates.ConflictDigestData{Conflicts: rows})
	if err != nil {
		return fmt.Errorf("render conflict digest: %w", err)
	}

	subject := fmt.Sprintf("⚠️ %d unresolved sync conflicts", len(conflicts))

	// Async send with a timeout; digest delivery never blocks the caller.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if sendErr := s.Send(ctx, s.cfg.OpsAlertEmail, subject, body); sendErr != nil {
			log.Printf("⚠️ [DIGEST] Background send failed: %v", sendErr)
		}
	}()

	log.Printf("📧 [DIGEST] Queued digest of %d conflicts for %s", len(conflicts), s.cfg.OpsAlertEmail)
	return nil
}
