package dto

import (
	"time"

	"pgplane/internal/dsn"
	"pgplane/internal/model"
)

// NodeDTO represents a node in API responses. Connection secrets are
// masked before the struct is ever built.
type NodeDTO struct {
	ID                 int        `json:"id"`
	ExternalID         string     `json:"externalId"`
	Name               string     `json:"name"`
	ClusterID          int        `json:"clusterId"`
	Host               string     `json:"host"`
	Port               int        `json:"port"`
	Role               string     `json:"role"`
	Status             string     `json:"status"`
	Database           string     `json:"database"`
	SSLMode            string     `json:"sslMode"`
	User               string     `json:"user"`
	ConnectionString   string     `json:"connectionString"`
	Password           string     `json:"password"`
	ConnectionVerified bool       `json:"connectionVerified"`
	ConnectionError    *string    `json:"connectionError"`
	PGVersion          string     `json:"pgVersion"`
	LastConnectionTest *time.Time `json:"lastConnectionTest"`
	CheckFailCount     int        `json:"checkFailCount"`
	ReplicationEnabled bool       `json:"replicationEnabled"`
	SyncEnabled        bool       `json:"syncEnabled"`
	SyncStatus         string     `json:"syncStatus"`
	RoutingWeight      int        `json:"routingWeight"`
	Priority           int        `json:"priority"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// NewNodeDTO converts a Node to its masked API representation
func NewNodeDTO(n *model.Node) NodeDTO {
	d := NodeDTO{
		ID:                 n.ID,
		ExternalID:         n.ExternalID,
		Name:               n.Name,
		ClusterID:          n.ClusterID,
		Host:               n.Host,
		Port:               n.Port,
		Role:               string(n.Role),
		Status:             string(n.Status),
		Database:           n.Database,
		SSLMode:            n.SSLMode,
		User:               n.ConnUser,
		ConnectionVerified: n.ConnectionVerified,
		ConnectionError:    n.ConnectionError,
		PGVersion:          n.PGVersion,
		LastConnectionTest: n.LastConnectionTest,
		CheckFailCount:     n.CheckFailCount,
		ReplicationEnabled: n.ReplicationEnabled,
		SyncEnabled:        n.SyncEnabled,
		SyncStatus:         n.SyncStatus,
		RoutingWeight:      n.RoutingWeight,
		Priority:           n.Priority,
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
	}
	if n.ConnectionString != "" {
		d.ConnectionString = dsn.Mask(n.ConnectionString)
	}
	if n.ConnPassword != "" {
		d.Password = dsn.MaskPlaceholder
	}
	return d
}
