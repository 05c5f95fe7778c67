package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NodeRole represents a node's replication role within its cluster.
// A cluster holds at most one PRIMARY at any committed point in time.
type NodeRole string

const (
	NodeRolePrimary NodeRole = "PRIMARY"
	NodeRoleReplica NodeRole = "REPLICA"
)

// NodeStatus represents a node's operational status
type NodeStatus string

const (
	NodeStatusOnline   NodeStatus = "ONLINE"
	NodeStatusOffline  NodeStatus = "OFFLINE"
	NodeStatusDegraded NodeStatus = "DEGRADED"
)

// Node represents a single PostgreSQL server instance known to the
// control plane. Connection secrets are stored here and nowhere else;
// they are masked before any record leaves the API.
type Node struct {
	BaseModel
	ExternalID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"external_id"`
	Name       string `gorm:"type:varchar(128);not null;uniqueIndex:idx_nodes_cluster_name" json:"name"`
	ClusterID  int    `gorm:"not null;uniqueIndex:idx_nodes_cluster_name;index" json:"cluster_id"`

	Host   string     `gorm:"type:varchar(255);not null" json:"host"`
	Port   int        `gorm:"default:5432" json:"port"`
	Role   NodeRole   `gorm:"type:varchar(16);default:'REPLICA';index" json:"role"`
	Status NodeStatus `gorm:"type:varchar(16);default:'OFFLINE'" json:"status"`

	// Connection descriptor. The full DSN and the password are secrets.
	ConnectionString string `gorm:"type:varchar(1024)" json:"-"`
	ConnUser         string `gorm:"type:varchar(128)" json:"-"`
	ConnPassword     string `gorm:"type:varchar(255)" json:"-"`
	Database         string `gorm:"type:varchar(128)" json:"database"`
	SSLMode          string `gorm:"type:varchar(16)" json:"ssl_mode"`

	// Connectivity verification state, written by the reconciler and
	// the health sweep, never by the verifier itself.
	ConnectionVerified bool       `json:"connection_verified"`
	ConnectionError    *string    `gorm:"type:varchar(512)" json:"connection_error"`
	PGVersion          string     `gorm:"type:varchar(64)" json:"pg_version"`
	LastConnectionTest *time.Time `json:"last_connection_test"`
	CheckFailCount     int        `gorm:"default:0" json:"check_fail_count"`

	// Replication and sync flags
	ReplicationEnabled bool   `gorm:"default:true" json:"replication_enabled"`
	SyncEnabled        bool   `gorm:"default:false" json:"sync_enabled"`
	SyncStatus         string `gorm:"type:varchar(32)" json:"sync_status"`

	// Routing metadata
	RoutingWeight int `gorm:"default:0" json:"routing_weight"`
	Priority      int `gorm:"default:100" json:"priority"`
}

// TableName specifies the table name for Node model
func (Node) TableName() string {
	return "nodes"
}

// BeforeCreate assigns an external identifier before the row is inserted
func (n *Node) BeforeCreate(tx *gorm.DB) error {
	if n.ExternalID == "" {
		n.ExternalID = uuid.New().String()
	}
	return nil
}

// IsPrimary reports whether the node currently holds the PRIMARY role
func (n *Node) IsPrimary() bool {
	return n.Role == NodeRolePrimary
}
