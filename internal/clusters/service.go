// Package clusters provisions and manages PostgreSQL clusters and their
// read-routing configuration.
package clusters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pgplane/internal/audit"
	"pgplane/internal/auth"
	"pgplane/internal/cache"
	"pgplane/internal/dsn"
	"pgplane/internal/dto"
	"pgplane/internal/httpx"
	"pgplane/internal/model"
	"pgplane/internal/routing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	lockWait = 5 * time.Second
	lockTTL  = 15 * time.Second
)

// Service manages cluster lifecycle and routing configuration
type Service struct {
	db      *gorm.DB
	locker  cache.Locker
	auditor *audit.Recorder
	logger  *logrus.Entry
}

// NewService builds a cluster service on top of the given storage
func NewService(db *gorm.DB, locker cache.Locker, logger *logrus.Entry) *Service {
	return &Service{
		db:      db,
		locker:  locker,
		auditor: audit.NewRecorder(db),
		logger:  logger.WithField("component", "clusters"),
	}
}

// List returns clusters with their node counts, optionally filtered by
// project
func (s *Service) List(projectID int) ([]dto.ClusterDTO, *httpx.AppError) {
	var clusters []model.Cluster
	q := s.db.Order("id")
	if projectID > 0 {
		q = q.Where("project_id = ?", projectID)
	}
	if err := q.Find(&clusters).Error; err != nil {
		return nil, httpx.ErrDatabaseError("failed to list clusters", err)
	}

	counts := map[int]int{}
	var rows []struct {
		ClusterID int
		Total     int
	}
	if err := s.db.Model(&model.Node{}).
		Select("cluster_id, count(*) as total").
		Group("cluster_id").
		Scan(&rows).Error; err != nil {
		return nil, httpx.ErrDatabaseError("failed to count nodes", err)
	}
	for _, r := range rows {
		counts[r.ClusterID] = r.Total
	}

	out := make([]dto.ClusterDTO, len(clusters))
	for i := range clusters {
		out[i] = dto.NewClusterDTO(&clusters[i])
		out[i].NodeCount = counts[clusters[i].ID]
	}
	return out, nil
}

// GetDetail loads one cluster with its nodes
func (s *Service) GetDetail(id int) (*dto.ClusterDetailDTO, *httpx.AppError) {
	var cluster model.Cluster
	if err := s.db.Preload("Nodes", func(db *gorm.DB) *gorm.DB {
		return db.Order("nodes.id")
	}).First(&cluster, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("cluster not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load cluster", err)
	}
	d := dto.NewClusterDetailDTO(&cluster)
	return &d, nil
}

// NodeSpec describes one node of the initial topology
type NodeSpec struct {
	Name             string
	Role             string
	ConnectionString string
	SSLMode          string
	Priority         *int
}

// ProvisionParams describes a new cluster and its initial topology
type ProvisionParams struct {
	ProjectID       int
	Name            string
	Topology        string
	ReplicationMode string
	PoolingMode     string
	DefaultPoolSize *int
	MaxClientConn   *int
	Nodes           []NodeSpec
}

func validTopology(t string) bool {
	switch model.ClusterTopology(t) {
	case model.TopologyStandard, model.TopologyHA, model.TopologyMultiRegion:
		return true
	}
	return false
}

// topologyMinNodes is the smallest initial topology each layout accepts
func topologyMinNodes(t model.ClusterTopology) int {
	switch t {
	case model.TopologyHA, model.TopologyMultiRegion:
		return 2
	default:
		return 0
	}
}

// Provision creates a cluster and its initial nodes in one transaction.
// A non-empty topology must contain exactly one PRIMARY; connection
// strings are validated and canonicalized before anything is written.
func (s *Service) Provision(ctx context.Context, actor auth.Actor, p ProvisionParams) (*dto.ClusterDetailDTO, *httpx.AppError) {
	if !auth.HasPermission(actor.Role, auth.RoleOperator) {
		return nil, httpx.ErrForbidden("")
	}
	if p.Name == "" {
		return nil, httpx.ErrParamMissing("name is required")
	}

	topology := model.TopologyStandard
	if p.Topology != "" {
		if !validTopology(p.Topology) {
			return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid topology %q", p.Topology))
		}
		topology = model.ClusterTopology(p.Topology)
	}
	replication := model.ReplicationAsync
	if p.ReplicationMode != "" {
		if p.ReplicationMode != string(model.ReplicationAsync) && p.ReplicationMode != string(model.ReplicationSync) {
			return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid replication mode %q", p.ReplicationMode))
		}
		replication = model.ReplicationMode(p.ReplicationMode)
	}

	cluster := model.Cluster{
		Name:            p.Name,
		ProjectID:       p.ProjectID,
		Topology:        topology,
		ReplicationMode: replication,
		Status:          model.ClusterStatusProvisioning,
		PoolingMode:     model.PoolingTransaction,
		DefaultPoolSize: 20,
		MaxClientConn:   100,
	}
	if p.PoolingMode != "" {
		if p.PoolingMode != string(model.PoolingSession) && p.PoolingMode != string(model.PoolingTransaction) {
			return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid pooling mode %q", p.PoolingMode))
		}
		cluster.PoolingMode = model.PoolingMode(p.PoolingMode)
	}
	if p.DefaultPoolSize != nil {
		if *p.DefaultPoolSize < 1 {
			return nil, httpx.ErrParamIllegal("defaultPoolSize must be positive")
		}
		cluster.DefaultPoolSize = *p.DefaultPoolSize
	}
	if p.MaxClientConn != nil {
		if *p.MaxClientConn < 1 {
			return nil, httpx.ErrParamIllegal("maxClientConn must be positive")
		}
		cluster.MaxClientConn = *p.MaxClientConn
	}

	var project model.Project
	if err := s.db.First(&project, p.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("project not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load project", err)
	}

	if min := topologyMinNodes(topology); len(p.Nodes) < min {
		return nil, httpx.ErrParamIllegal(fmt.Sprintf("topology %s needs at least %d nodes", topology, min))
	}

	nodes, appErr := buildInitialNodes(p.Nodes)
	if appErr != nil {
		return nil, appErr
	}

	var count int64
	if err := s.db.Model(&model.Cluster{}).
		Where("project_id = ? AND name = ?", p.ProjectID, p.Name).
		Count(&count).Error; err != nil {
		return nil, httpx.ErrDatabaseError("failed to check name uniqueness", err)
	}
	if count > 0 {
		return nil, httpx.ErrAlreadyExists("cluster name already exists in this project")
	}

	// Until replicas verify, all reads go to the primary
	for i, a := range routing.Distribute(nodes, routing.Policy{PrimaryReadShare: routing.DefaultPrimaryReadShare}) {
		nodes[i].RoutingWeight = a.Weight
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cluster).Error; err != nil {
			return fmt.Errorf("failed to create cluster: %w", err)
		}
		for i := range nodes {
			nodes[i].ClusterID = cluster.ID
		}
		if len(nodes) > 0 {
			if err := tx.Create(&nodes).Error; err != nil {
				return fmt.Errorf("failed to create nodes: %w", err)
			}
		}
		after := audit.ClusterSnapshot(&cluster)
		names := make([]string, len(nodes))
		for i, n := range nodes {
			names[i] = n.Name
		}
		after["nodes"] = names
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityCluster,
			EntityID:   cluster.ID,
			Action:     model.AuditActionCreate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			After:      after,
		})
	})
	if txErr != nil {
		return nil, httpx.ErrDatabaseError("failed to provision cluster", txErr)
	}

	s.logger.WithFields(logrus.Fields{
		"cluster": cluster.Name,
		"project": project.Name,
		"nodes":   len(nodes),
	}).Info("cluster provisioned")

	cluster.Nodes = nodes
	d := dto.NewClusterDetailDTO(&cluster)
	return &d, nil
}

// buildInitialNodes validates the requested topology and returns node
// rows ready to insert. Exactly one PRIMARY is required unless the list
// is empty.
func buildInitialNodes(specs []NodeSpec) ([]model.Node, *httpx.AppError) {
	nodes := make([]model.Node, 0, len(specs))
	seen := map[string]bool{}
	primaries := 0

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, httpx.ErrParamMissing("every node needs a name")
		}
		if seen[spec.Name] {
			return nil, httpx.ErrParamIllegal(fmt.Sprintf("duplicate node name %q", spec.Name))
		}
		seen[spec.Name] = true

		role := model.NodeRoleReplica
		if spec.Role != "" {
			if spec.Role != string(model.NodeRolePrimary) && spec.Role != string(model.NodeRoleReplica) {
				return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid role %q for node %q", spec.Role, spec.Name))
			}
			role = model.NodeRole(spec.Role)
		}
		if role == model.NodeRolePrimary {
			primaries++
		}

		node := model.Node{
			Name:     spec.Name,
			Role:     role,
			Status:   model.NodeStatusOffline,
			Priority: 100,
		}
		if spec.Priority != nil {
			node.Priority = *spec.Priority
		}
		if spec.ConnectionString != "" {
			if dsn.IsMasked(spec.ConnectionString) {
				return nil, httpx.ErrParamInvalid(fmt.Sprintf("connection string for %q is masked", spec.Name))
			}
			desc, err := dsn.Parse(spec.ConnectionString)
			if err != nil {
				return nil, httpx.ErrParamInvalid(fmt.Sprintf("invalid connection string for %q: %v", spec.Name, err))
			}
			if !desc.HasCredentials() {
				return nil, httpx.ErrParamInvalid(fmt.Sprintf("connection string for %q must include user and password", spec.Name))
			}
			if spec.SSLMode != "" {
				desc.SSLMode = spec.SSLMode
			}
			node.ConnectionString = dsn.Build(*desc)
			node.Host = desc.Host
			node.Port = desc.Port
			node.ConnUser = desc.User
			node.ConnPassword = desc.Password
			node.Database = desc.Database
			node.SSLMode = desc.SSLMode
		} else if spec.SSLMode != "" {
			node.SSLMode = spec.SSLMode
		}
		nodes = append(nodes, node)
	}

	if primaries > 1 {
		return nil, httpx.ErrParamIllegal("initial topology can hold at most one primary")
	}
	if primaries == 0 && len(specs) > 0 {
		return nil, httpx.ErrParamIllegal("initial topology needs exactly one primary")
	}
	return nodes, nil
}

// UpdateParams carries the mutable cluster settings. Nil fields are
// left untouched.
type UpdateParams struct {
	Name            *string
	PoolingMode     *string
	DefaultPoolSize *int
	MaxClientConn   *int
}

// Update changes a cluster's name or pooler settings
func (s *Service) Update(ctx context.Context, actor auth.Actor, clusterID int, p UpdateParams) (*dto.ClusterDTO, *httpx.AppError) {
	if !auth.HasPermission(actor.Role, auth.RoleOperator) {
		return nil, httpx.ErrForbidden("")
	}

	var cluster model.Cluster
	if err := s.db.First(&cluster, clusterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("cluster not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load cluster", err)
	}
	before := audit.ClusterSnapshot(&cluster)

	staged := map[string]any{}
	if p.Name != nil && *p.Name != cluster.Name {
		if *p.Name == "" {
			return nil, httpx.ErrParamMissing("name must not be empty")
		}
		var count int64
		if err := s.db.Model(&model.Cluster{}).
			Where("project_id = ? AND name = ? AND id <> ?", cluster.ProjectID, *p.Name, cluster.ID).
			Count(&count).Error; err != nil {
			return nil, httpx.ErrDatabaseError("failed to check name uniqueness", err)
		}
		if count > 0 {
			return nil, httpx.ErrAlreadyExists("cluster name already exists in this project")
		}
		staged["name"] = *p.Name
	}
	if p.PoolingMode != nil {
		if *p.PoolingMode != string(model.PoolingSession) && *p.PoolingMode != string(model.PoolingTransaction) {
			return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid pooling mode %q", *p.PoolingMode))
		}
		if model.PoolingMode(*p.PoolingMode) != cluster.PoolingMode {
			staged["pooling_mode"] = *p.PoolingMode
		}
	}
	if p.DefaultPoolSize != nil {
		if *p.DefaultPoolSize < 1 {
			return nil, httpx.ErrParamIllegal("defaultPoolSize must be positive")
		}
		if *p.DefaultPoolSize != cluster.DefaultPoolSize {
			staged["default_pool_size"] = *p.DefaultPoolSize
		}
	}
	if p.MaxClientConn != nil {
		if *p.MaxClientConn < 1 {
			return nil, httpx.ErrParamIllegal("maxClientConn must be positive")
		}
		if *p.MaxClientConn != cluster.MaxClientConn {
			staged["max_client_conn"] = *p.MaxClientConn
		}
	}

	if len(staged) == 0 {
		d := dto.NewClusterDTO(&cluster)
		return &d, nil
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&cluster).Updates(staged).Error; err != nil {
			return fmt.Errorf("failed to update cluster: %w", err)
		}
		if err := tx.First(&cluster, cluster.ID).Error; err != nil {
			return err
		}
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityCluster,
			EntityID:   cluster.ID,
			Action:     model.AuditActionUpdate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     before,
			After:      audit.ClusterSnapshot(&cluster),
		})
	})
	if txErr != nil {
		return nil, httpx.ErrDatabaseError("failed to update cluster", txErr)
	}

	s.logger.WithField("cluster", cluster.Name).Info("cluster updated")
	d := dto.NewClusterDTO(&cluster)
	return &d, nil
}

// Delete removes a cluster. A cluster that still has nodes is only
// deleted when force is set; the nodes go with it.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, clusterID int, force bool) *httpx.AppError {
	if !auth.HasPermission(actor.Role, auth.RoleAdmin) {
		return httpx.ErrForbidden("")
	}

	var cluster model.Cluster
	if err := s.db.First(&cluster, clusterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.ErrNotFound("cluster not found")
		}
		return httpx.ErrDatabaseError("failed to load cluster", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, cache.ClusterLockKey(cluster.ID), lockTTL)
	if err != nil {
		return httpx.ErrStateConflict("cluster is busy with another change")
	}
	defer release()

	var nodeCount int64
	if err := s.db.Model(&model.Node{}).Where("cluster_id = ?", cluster.ID).Count(&nodeCount).Error; err != nil {
		return httpx.ErrDatabaseError("failed to count nodes", err)
	}
	if nodeCount > 0 && !force {
		return httpx.ErrPreconditionFailed(fmt.Sprintf("cluster still has %d nodes; set force to delete them too", nodeCount))
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cluster_id = ?", cluster.ID).Delete(&model.Node{}).Error; err != nil {
			return fmt.Errorf("failed to delete nodes: %w", err)
		}
		if err := tx.Delete(&model.Cluster{}, cluster.ID).Error; err != nil {
			return fmt.Errorf("failed to delete cluster: %w", err)
		}
		before := audit.ClusterSnapshot(&cluster)
		before["node_count"] = nodeCount
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityCluster,
			EntityID:   cluster.ID,
			Action:     model.AuditActionDelete,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     before,
		})
	})
	if txErr != nil {
		return httpx.ErrDatabaseError("failed to delete cluster", txErr)
	}

	s.logger.WithFields(logrus.Fields{"cluster": cluster.Name, "nodes": nodeCount}).Info("cluster deleted")
	return nil
}
