package dto

import (
	"time"

	"pgplane/internal/model"
)

// ClusterDTO represents a cluster in API responses
type ClusterDTO struct {
	ID              int       `json:"id"`
	ExternalID      string    `json:"externalId"`
	Name            string    `json:"name"`
	ProjectID       int       `json:"projectId"`
	Topology        string    `json:"topology"`
	ReplicationMode string    `json:"replicationMode"`
	Status          string    `json:"status"`
	PoolingMode     string    `json:"poolingMode"`
	DefaultPoolSize int       `json:"defaultPoolSize"`
	MaxClientConn   int       `json:"maxClientConn"`
	NodeCount       int       `json:"nodeCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ClusterDetailDTO represents a cluster with its nodes
type ClusterDetailDTO struct {
	ClusterDTO
	Nodes []NodeDTO `json:"nodes"`
}

// NewClusterDTO converts a Cluster to its API representation
func NewClusterDTO(c *model.Cluster) ClusterDTO {
	return ClusterDTO{
		ID:              c.ID,
		ExternalID:      c.ExternalID,
		Name:            c.Name,
		ProjectID:       c.ProjectID,
		Topology:        string(c.Topology),
		ReplicationMode: string(c.ReplicationMode),
		Status:          string(c.Status),
		PoolingMode:     string(c.PoolingMode),
		DefaultPoolSize: c.DefaultPoolSize,
		MaxClientConn:   c.MaxClientConn,
		NodeCount:       len(c.Nodes),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// NewClusterDetailDTO converts a Cluster and its nodes to the detail form
func NewClusterDetailDTO(c *model.Cluster) ClusterDetailDTO {
	d := ClusterDetailDTO{ClusterDTO: NewClusterDTO(c)}
	d.Nodes = make([]NodeDTO, len(c.Nodes))
	for i := range c.Nodes {
		d.Nodes[i] = NewNodeDTO(&c.Nodes[i])
	}
	return d
}
