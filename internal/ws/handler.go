package ws

import (
	"encoding/json"
	"log"

	socketio "github.com/googollee/go-socket.io"

	"pgplane/internal/db"
	"pgplane/internal/dto"
	"pgplane/internal/model"
)

const incrementalMaxCount = 500

// parseLastEventId pulls lastEventId out of the raw event data
func parseLastEventId(data interface{}) int64 {
	if dataMap, ok := data.(map[string]interface{}); ok {
		if f, ok := dataMap["lastEventId"].(float64); ok {
			return int64(f)
		}
	}
	return 0
}

// handleRequestNodes handles the request:nodes event. Clients that were
// briefly disconnected send their lastEventId to catch up; everyone else
// gets the full masked list.
func handleRequestNodes(s socketio.Conn, data interface{}) {
	lastEventId := parseLastEventId(data)
	log.Printf("[WebSocket] request:nodes from client %s, lastEventId=%d", s.ID(), lastEventId)

	if lastEventId > 0 && sendIncrementalUpdates(s, TopicNodes, lastEventId) {
		return
	}
	sendFullNodesList(s)
}

// handleRequestClusters handles the request:clusters event
func handleRequestClusters(s socketio.Conn, data interface{}) {
	lastEventId := parseLastEventId(data)
	log.Printf("[WebSocket] request:clusters from client %s, lastEventId=%d", s.ID(), lastEventId)

	if lastEventId > 0 && sendIncrementalUpdates(s, TopicClusters, lastEventId) {
		return
	}
	sendFullClustersList(s)
}

// sendIncrementalUpdates replays stored events after lastEventId.
// Returns false when the client should get a full list instead.
func sendIncrementalUpdates(s socketio.Conn, topic string, lastEventId int64) bool {
	events, err := GetIncrementalEvents(topic, lastEventId, incrementalMaxCount)
	if err != nil {
		log.Printf("[WebSocket] Failed to query incremental events: %v", err)
		return false
	}

	// Too large a gap; a full list is cheaper than replaying it
	if len(events) >= incrementalMaxCount {
		log.Printf("[WebSocket] Too many incremental events (%d), falling back to full list", len(events))
		return false
	}

	if len(events) == 0 {
		latestEventId, _ := GetLatestEventId(topic)
		s.Emit(topic+":initial", map[string]interface{}{
			"items":       []interface{}{},
			"total":       0,
			"lastEventId": latestEventId,
		})
		return true
	}

	log.Printf("[WebSocket] Sending %d incremental %s events", len(events), topic)
	for _, event := range events {
		var payload interface{}
		if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
			log.Printf("[WebSocket] Failed to unmarshal event payload: %v", err)
			continue
		}
		s.Emit(topic+":update", map[string]interface{}{
			"eventId": event.ID,
			"type":    event.EventType,
			"data":    payload,
		})
	}

	return true
}

// sendFullNodesList sends every node as a masked DTO
func sendFullNodesList(s socketio.Conn) {
	var nodes []model.Node
	if err := db.GetDB().Order("id").Limit(10000).Find(&nodes).Error; err != nil {
		log.Printf("[WebSocket] Failed to query nodes: %v", err)
		s.Emit("error", map[string]interface{}{
			"message": "Failed to query nodes",
		})
		return
	}

	items := make([]dto.NodeDTO, len(nodes))
	for i := range nodes {
		items[i] = dto.NewNodeDTO(&nodes[i])
	}

	latestEventId, _ := GetLatestEventId(TopicNodes)
	s.Emit("nodes:initial", map[string]interface{}{
		"items":       items,
		"total":       len(items),
		"lastEventId": latestEventId,
	})

	log.Printf("[WebSocket] Sent full nodes list: total=%d, lastEventId=%d", len(items), latestEventId)
}

// sendFullClustersList sends every cluster
func sendFullClustersList(s socketio.Conn) {
	var clusters []model.Cluster
	if err := db.GetDB().Order("id").Limit(10000).Find(&clusters).Error; err != nil {
		log.Printf("[WebSocket] Failed to query clusters: %v", err)
		s.Emit("error", map[string]interface{}{
			"message": "Failed to query clusters",
		})
		return
	}

	items := make([]dto.ClusterDTO, len(clusters))
	for i := range clusters {
		items[i] = dto.NewClusterDTO(&clusters[i])
	}

	latestEventId, _ := GetLatestEventId(TopicClusters)
	s.Emit("clusters:initial", map[string]interface{}{
		"items":       items,
		"total":       len(items),
		"lastEventId": latestEventId,
	})

	log.Printf("[WebSocket] Sent full clusters list: total=%d, lastEventId=%d", len(items), latestEventId)
}
