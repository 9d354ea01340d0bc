package sse

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is one SSE event pushed to connected devices. OriginDeviceID lets
// subscribers skip events caused by their own pushes.
type Event struct {
	Type           string      `json:"type"`
	Data           interface{} `json:"data,omitempty"`
	UserID         string      `json:"user_id"`
	OriginDeviceID string      `json:"origin_device_id,omitempty"`
}

type subscriber struct {
	deviceID string
	ch       chan Event
}

// Broker fans sync events out to the SSE connections of a user's devices.
type Broker struct {
	subscribers map[string]map[chan Event]*subscriber // userID → channels
	mu          sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[chan Event]*subscriber),
	}
}

// Subscribe adds a device's event channel for a user.
func (b *Broker) Subscribe(userID, deviceID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[chan Event]*subscriber)
	}
	b.subscribers[userID][ch] = &subscriber{deviceID: deviceID, ch: ch}

	log.Printf("📡 [SSE] Device %s subscribed for user %s (total: %d)",
		deviceID, userID, len(b.subscribers[userID]))
}

// Unsubscribe removes and closes a device's channel.
func (b *Broker) Unsubscribe(userID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if userSubs, ok := b.subscribers[userID]; ok {
		if _, ok := userSubs[ch]; ok {
			delete(userSubs, ch)
			close(ch)
		}
		if len(userSubs) == 0 {
			delete(b.subscribers, userID)
		}
		log.Printf("📡 [SSE] Device unsubscribed for user %s (remaining: %d)",
			userID, len(userSubs))
	}
}

// Broadcast delivers an event to all of a user's subscribed devices except
// the one that caused it. Slow subscribers are skipped, never blocked on.
func (b *Broker) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	userSubs, ok := b.subscribers[event.UserID]
	if !ok {
		return
	}

	// Marshal once; fan the same immutable copy out.
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		log.Printf("❌ [SSE] Failed to marshal event data: %v", err)
		return
	}
	eventCopy := Event{
		Type:           event.Type,
		Data:           json.RawMessage(dataJSON),
		UserID:         event.UserID,
		OriginDeviceID: event.OriginDeviceID,
	}

	sent := 0
	for ch, sub := range userSubs {
		if sub.deviceID == event.OriginDeviceID {
			continue
		}
		select {
		case ch <- eventCopy:
			sent++
		default:
			log.Printf("⚠️ [SSE] Channel blocked for device %s (user %s)", sub.deviceID, event.UserID)
		}
	}

	if sent > 0 {
		log.Printf("📡 [SSE] Broadcast %s to %d devices of user %s", event.Type, sent, event.UserID)
	}
}

// SubscriberCount returns the number of connected devices for a user.
func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[userID])
}
