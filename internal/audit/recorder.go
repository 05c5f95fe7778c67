// Package audit writes append-only records of successful mutations.
package audit

import (
	"encoding/json"
	"fmt"

	"pgplane/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Redacted replaces every secret value in audit snapshots. The real
// value never appears, not even partially.
const Redacted = "[REDACTED]"

// Entry describes one mutation to record
type Entry struct {
	RequestID  string
	EntityType model.AuditEntityType
	EntityID   int
	Action     model.AuditAction
	ActorID    int
	ActorName  string
	Before     map[string]any
	After      map[string]any
}

// Recorder persists audit entries
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder backed by the given database
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts an audit row. Pass the caller's transaction handle so
// the record commits and rolls back with the mutation it describes;
// audit rows must exist only for mutations that actually happened.
func (r *Recorder) Record(tx *gorm.DB, e Entry) error {
	if tx == nil {
		tx = r.db
	}
	if e.RequestID == "" {
		e.RequestID = uuid.New().String()
	}

	row := model.AuditLog{
		RequestID:  e.RequestID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
	}

	if e.Before != nil {
		data, err := json.Marshal(e.Before)
		if err != nil {
			return fmt.Errorf("failed to marshal before state: %w", err)
		}
		row.Before = data
	}
	if e.After != nil {
		data, err := json.Marshal(e.After)
		if err != nil {
			return fmt.Errorf("failed to marshal after state: %w", err)
		}
		row.After = data
	}

	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// NodeSnapshot captures a node's state for an audit record with every
// secret replaced by the Redacted literal.
func NodeSnapshot(n *model.Node) map[string]any {
	snap := map[string]any{
		"id":                  n.ID,
		"external_id":         n.ExternalID,
		"name":                n.Name,
		"cluster_id":          n.ClusterID,
		"host":                n.Host,
		"port":                n.Port,
		"role":                string(n.Role),
		"status":              string(n.Status),
		"database":            n.Database,
		"ssl_mode":            n.SSLMode,
		"connection_verified": n.ConnectionVerified,
		"pg_version":          n.PGVersion,
		"replication_enabled": n.ReplicationEnabled,
		"sync_enabled":        n.SyncEnabled,
		"sync_status":         n.SyncStatus,
		"routing_weight":      n.RoutingWeight,
		"priority":            n.Priority,
	}
	if n.ConnUser != "" {
		snap["user"] = n.ConnUser
	}
	if n.ConnPassword != "" {
		snap["password"] = Redacted
	}
	if n.ConnectionString != "" {
		snap["connection_string"] = Redacted
	}
	return snap
}

// ClusterSnapshot captures a cluster's state for an audit record
func ClusterSnapshot(c *model.Cluster) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"external_id":      c.ExternalID,
		"name":             c.Name,
		"project_id":       c.ProjectID,
		"topology":         string(c.Topology),
		"replication_mode": string(c.ReplicationMode),
		"status":           string(c.Status),
		"pooling_mode":     string(c.PoolingMode),
	}
}

// OrgSnapshot captures an organization's state for an audit record
func OrgSnapshot(o *model.Organization) map[string]any {
	return map[string]any{
		"id":          o.ID,
		"name":        o.Name,
		"description": o.Description,
	}
}

// ProjectSnapshot captures a project's state for an audit record
func ProjectSnapshot(p *model.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"org_id":      p.OrgID,
		"environment": string(p.Environment),
		"description": p.Description,
	}
}

// APIKeySnapshot captures an API key's state for an audit record. The
// hash is a secret and never appears.
func APIKeySnapshot(k *model.APIKey) map[string]any {
	return map[string]any{
		"id":     k.ID,
		"name":   k.Name,
		"prefix": k.Prefix,
		"role":   k.Role,
		"status": string(k.Status),
	}
}
