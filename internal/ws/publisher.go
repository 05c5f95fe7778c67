package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"pgplane/internal/db"
	"pgplane/internal/model"

	"gorm.io/gorm"
)

// Topics clients can subscribe to
const (
	TopicNodes    = "nodes"
	TopicClusters = "clusters"
)

// Publish persists an event for incremental catch-up and broadcasts it
// to all connected clients. eventType: "create", "update", "delete",
// "promote". The payload must already be masked.
func Publish(topic, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WebSocket] Failed to marshal payload: %v", err)
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := model.WSEvent{
		Topic:     topic,
		EventType: eventType,
		Payload:   string(payloadJSON),
	}
	if err := db.GetDB().Create(&event).Error; err != nil {
		log.Printf("[WebSocket] Failed to write event to database: %v", err)
		return fmt.Errorf("failed to write event to database: %w", err)
	}

	// Broadcast failure must not affect the main flow
	BroadcastToAll(topic+":update", map[string]interface{}{
		"eventId": event.ID,
		"type":    eventType,
		"data":    payload,
	})

	return nil
}

// GetIncrementalEvents retrieves events on a topic with id > lastEventId,
// limited to maxCount
func GetIncrementalEvents(topic string, lastEventId int64, maxCount int) ([]model.WSEvent, error) {
	var events []model.WSEvent

	err := db.GetDB().
		Where("topic = ? AND id > ?", topic, lastEventId).
		Order("id ASC").
		Limit(maxCount).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query incremental events: %w", err)
	}

	return events, nil
}

// GetLatestEventId retrieves the latest event ID on a topic
func GetLatestEventId(topic string) (int64, error) {
	var event model.WSEvent

	err := db.GetDB().
		Where("topic = ?", topic).
		Order("id DESC").
		Limit(1).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query latest event: %w", err)
	}

	return event.ID, nil
}
