package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEntityType identifies which kind of record an audit entry refers to
type AuditEntityType string

const (
	AuditEntityNode    AuditEntityType = "node"
	AuditEntityCluster AuditEntityType = "cluster"
	AuditEntityProject AuditEntityType = "project"
	AuditEntityOrg     AuditEntityType = "organization"
	AuditEntityAPIKey  AuditEntityType = "api_key"
)

// AuditAction identifies what happened to the entity
type AuditAction string

const (
	AuditActionCreate   AuditAction = "create"
	AuditActionUpdate   AuditAction = "update"
	AuditActionPromote  AuditAction = "promote"
	AuditActionDelete   AuditAction = "delete"
	AuditActionConnTest AuditAction = "connection_test"
)

// AuditLog is an append-only record of a successful mutation. Before and
// After snapshots are JSON with all secret fields redacted prior to insert.
type AuditLog struct {
	ID         int             `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID  string          `gorm:"type:varchar(36);index" json:"request_id"`
	EntityType AuditEntityType `gorm:"type:varchar(32);not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   int             `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	Action     AuditAction     `gorm:"type:varchar(32);not null" json:"action"`
	ActorID    int             `gorm:"index" json:"actor_id"`
	ActorName  string          `gorm:"type:varchar(128)" json:"actor_name"`
	Before     datatypes.JSON  `json:"before"`
	After      datatypes.JSON  `json:"after"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}
