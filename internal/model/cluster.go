package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClusterTopology describes how a cluster's nodes are laid out
type ClusterTopology string

const (
	TopologyStandard    ClusterTopology = "STANDARD"
	TopologyHA          ClusterTopology = "HA"
	TopologyMultiRegion ClusterTopology = "MULTI_REGION"
)

// ReplicationMode describes how changes flow from primary to replicas
type ReplicationMode string

const (
	ReplicationAsync ReplicationMode = "ASYNC"
	ReplicationSync  ReplicationMode = "SYNC"
)

// ClusterStatus represents the aggregate health of a cluster
type ClusterStatus string

const (
	ClusterStatusProvisioning ClusterStatus = "PROVISIONING"
	ClusterStatusHealthy      ClusterStatus = "HEALTHY"
	ClusterStatusDegraded     ClusterStatus = "DEGRADED"
	ClusterStatusOffline      ClusterStatus = "OFFLINE"
)

// PoolingMode selects how the connection pooler hands out server connections
type PoolingMode string

const (
	PoolingSession     PoolingMode = "session"
	PoolingTransaction PoolingMode = "transaction"
)

// Cluster is a named collection of PostgreSQL nodes sharing a topology
// and replication mode. Deleting a cluster cascades to its nodes.
type Cluster struct {
	BaseModel
	ExternalID      string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"external_id"`
	Name            string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_clusters_project_name" json:"name"`
	ProjectID       int             `gorm:"not null;uniqueIndex:idx_clusters_project_name;index" json:"project_id"`
	Topology        ClusterTopology `gorm:"type:varchar(16);default:'STANDARD'" json:"topology"`
	ReplicationMode ReplicationMode `gorm:"type:varchar(8);default:'ASYNC'" json:"replication_mode"`
	Status          ClusterStatus   `gorm:"type:varchar(16);default:'PROVISIONING'" json:"status"`

	// Connection pooler settings applied to the cluster endpoint
	PoolingMode     PoolingMode `gorm:"type:varchar(16);default:'transaction'" json:"pooling_mode"`
	DefaultPoolSize int         `gorm:"default:20" json:"default_pool_size"`
	MaxClientConn   int         `gorm:"default:100" json:"max_client_conn"`

	Nodes []Node `gorm:"foreignKey:ClusterID;constraint:OnDelete:CASCADE" json:"nodes,omitempty"`
}

// TableName specifies the table name for Cluster model
func (Cluster) TableName() string {
	return "clusters"
}

// BeforeCreate assigns an external identifier before the row is inserted
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	if c.ExternalID == "" {
		c.ExternalID = uuid.New().String()
	}
	return nil
}
