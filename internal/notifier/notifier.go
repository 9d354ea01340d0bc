package notifier

import (
	"context"
	"log"
	"time"

	"warehouse-sync-service/internal/fcm"
	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/internal/sse"
)

// Notifier wakes a user's other devices after a push: connected devices
// get an SSE event, offline ones an FCM data nudge. Both channels are
// best-effort — replay correctness lives in pull, not here.
type Notifier struct {
	broker  *sse.Broker
	fcm     *fcm.FCMClient // nil when FCM is disabled
	devices repository.DeviceRepository
}

func New(broker *sse.Broker, fcmClient *fcm.FCMClient, devices repository.DeviceRepository) *Notifier {
	return &Notifier{
		broker:  broker,
		fcm:     fcmClient,
		devices: devices,
	}
}

// NotifyChanges is called from the push path and must not block it.
func (n *Notifier) NotifyChanges(userID, originDeviceID string) {
	n.broker.Broadcast(sse.Event{
		Type:           "sync.changes",
		UserID:         userID,
		OriginDeviceID: originDeviceID,
	})

	if n.fcm == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		devices, err := n.devices.ListActiveWithFCMToken(ctx, userID, originDeviceID)
		if err != nil {
			log.Printf("⚠️ [NUDGE] Failed to list devices for user %s: %v", userID, err)
			return
		}

		tokens := make([]string, 0, len(devices))
		for _, d := range devices {
			tokens = append(tokens, *d.FCMToken)
		}

		if err := n.fcm.SendSyncNudge(ctx, tokens, userID); err != nil {
			log.Printf("⚠️ [NUDGE] FCM nudge failed for user %s: %v", userID, err)
		}
	}()
}
