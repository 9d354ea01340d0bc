// internal/fcm/fcm.go
package fcm

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type FCMClient struct {
	client *messaging.Client
}

func NewFCMClient(ctx context.Context, credentialsJSON []byte) (*FCMClient, error) {
	conf := &firebase.Config{}
	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("firebase init failed: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging client init failed: %w", err)
	}

	return &FCMClient{client: messagingClient}, nil
}

// SendSyncNudge tells a set of devices that new operations are available
// to pull. Data-only message: no visible notification, the client's sync
// worker wakes up and pulls.
func (f *FCMClient) SendSyncNudge(ctx context.Context, tokens []string, userID string) error {
	if len(tokens) == 0 {
		return nil
	}

	data := map[string]string{
		"type":      "sync.changes",
		"user_id":   userID,
		"nudged_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	var messages []*messaging.Message
	for _, token := range tokens {
		messages = append(messages, &messaging.Message{
			Token: token,
			Data:  data,
			APNS: &messaging.APNSConfig{
				Headers: map[string]string{"apns-priority": "5"},
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{
						ContentAvailable: true, // silent background fetch
					},
				},
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		})
	}

	// Send in batches of up to 500 (FCM SendEach limit)
	const batchSize = 500
	for i := 0; i < len(messages); i += batchSize {
		end := i + batchSize
		if end > len(messages) {
			end = len(messages)
		}

		batch := messages[i:end]
		resp, err := f.client.SendEach(ctx, batch)
		if err != nil {
			return fmt.Errorf("FCM batch[%d:%d] failed: %w", i, end, err)
		}

		for j, r := range resp.Responses {
			if !r.Success {
				log.Printf("⚠️ FCM nudge to %s failed: %v", maskToken(tokens[i+j]), r.Error)
			}
		}
	}

	log.Printf("✅ FCM sync nudge sent to %d devices of user %s", len(tokens), userID)
	return nil
}

// maskToken hides all but last 6 chars for logging safety
func maskToken(token string) string {
	if len(token) <= 6 {
		return token
	}
	return "..." + token[len(token)-6:]
}
