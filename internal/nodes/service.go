// Package nodes applies mutations to cluster nodes while preserving the
// single-primary invariant.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pgplane/internal/audit"
	"pgplane/internal/auth"
	"pgplane/internal/cache"
	"pgplane/internal/conncheck"
	"pgplane/internal/dsn"
	"pgplane/internal/dto"
	"pgplane/internal/httpx"
	"pgplane/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// lockWait bounds how long a request waits for the cluster lock
	lockWait = 5 * time.Second
	// lockTTL bounds how long a crashed holder can keep the lock
	lockTTL = 15 * time.Second

	connErrorMaxLen = 512
)

var errTooManyPrimaries = errors.New("cluster has more than one primary after update")

// Service coordinates node mutations. All role and connection writes go
// through it; the health worker only touches verification state.
type Service struct {
	db      *gorm.DB
	checker conncheck.Checker
	locker  cache.Locker
	auditor *audit.Recorder
	logger  *logrus.Entry
}

// NewService creates a node service
func NewService(db *gorm.DB, checker conncheck.Checker, locker cache.Locker, logger *logrus.Entry) *Service {
	return &Service{
		db:      db,
		checker: checker,
		locker:  locker,
		auditor: audit.NewRecorder(db),
		logger:  logger.WithField("component", "nodes"),
	}
}

// Get loads one node by id
func (s *Service) Get(id int) (*model.Node, *httpx.AppError) {
	var node model.Node
	if err := s.db.First(&node, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("node not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load node", err)
	}
	return &node, nil
}

// ListByCluster loads all nodes of a cluster ordered by id
func (s *Service) ListByCluster(clusterID int) ([]model.Node, *httpx.AppError) {
	var nodes []model.Node
	if err := s.db.Where("cluster_id = ?", clusterID).Order("id").Find(&nodes).Error; err != nil {
		return nil, httpx.ErrDatabaseError("failed to list nodes", err)
	}
	return nodes, nil
}

// CreateParams describes a node registration
type CreateParams struct {
	ClusterID        int
	Name             string
	Role             string
	ConnectionString string
	SSLMode          string
	Priority         *int
	TestConnection   *bool
}

// Create registers a new node in a cluster. A PRIMARY can only be
// created when the cluster has none; promotion of an existing node goes
// through Reconcile instead.
func (s *Service) Create(ctx context.Context, actor auth.Actor, p CreateParams) (*dto.NodeDTO, *httpx.AppError) {
	if !auth.HasPermission(actor.Role, auth.RoleOperator) {
		return nil, httpx.ErrForbidden("")
	}
	if p.Name == "" {
		return nil, httpx.ErrParamMissing("name is required")
	}

	role := model.NodeRoleReplica
	if p.Role != "" {
		if p.Role != string(model.NodeRolePrimary) && p.Role != string(model.NodeRoleReplica) {
			return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid role %q", p.Role))
		}
		role = model.NodeRole(p.Role)
	}

	var cluster model.Cluster
	if err := s.db.First(&cluster, p.ClusterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("cluster not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load cluster", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, cache.ClusterLockKey(cluster.ID), lockTTL)
	if err != nil {
		return nil, httpx.ErrStateConflict("cluster is busy with another change")
	}
	defer release()

	var count int64
	if err := s.db.Model(&model.Node{}).Where("cluster_id = ? AND name = ?", cluster.ID, p.Name).Count(&count).Error; err != nil {
		return nil, httpx.ErrDatabaseError("failed to check name uniqueness", err)
	}
	if count > 0 {
		return nil, httpx.ErrAlreadyExists("node name already exists in this cluster")
	}

	node := model.Node{
		Name:      p.Name,
		ClusterID: cluster.ID,
		Role:      role,
		Status:    model.NodeStatusOffline,
		Priority:  100,
	}
	if p.Priority != nil {
		node.Priority = *p.Priority
	}

	if p.ConnectionString != "" {
		// There is no stored connection a masked string could echo yet
		if dsn.IsMasked(p.ConnectionString) {
			return nil, httpx.ErrParamInvalid("connection string is masked; provide the real password")
		}
		desc, err := dsn.Parse(p.ConnectionString)
		if err != nil {
			return nil, httpx.ErrParamInvalid(fmt.Sprintf("invalid connection string: %v", err))
		}
		if !desc.HasCredentials() {
			return nil, httpx.ErrParamInvalid("connection string must include user and password")
		}
		if p.SSLMode != "" {
			desc.SSLMode = p.SSLMode
		}
		canonical := dsn.Build(*desc)

		node.ConnectionString = canonical
		node.Host = desc.Host
		node.Port = desc.Port
		node.ConnUser = desc.User
		node.ConnPassword = desc.Password
		node.Database = desc.Database
		node.SSLMode = desc.SSLMode

		if p.TestConnection == nil || *p.TestConnection {
			res := s.checker.Check(ctx, canonical)
			now := time.Now()
			node.LastConnectionTest = &now
			if !res.Success {
				return nil, httpx.ErrConnTestFailed("", errors.New(res.Error)).
					WithData(map[string]any{"allowForce": true, "error": res.Error})
			}
			node.ConnectionVerified = true
			node.PGVersion = res.PGVersion
			node.Status = model.NodeStatusOnline
		}
	} else if p.SSLMode != "" {
		node.SSLMode = p.SSLMode
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if role == model.NodeRolePrimary {
			var primaries int64
			if err := tx.Model(&model.Node{}).
				Where("cluster_id = ? AND role = ?", cluster.ID, model.NodeRolePrimary).
				Count(&primaries).Error; err != nil {
				return err
			}
			if primaries > 0 {
				return errTooManyPrimaries
			}
		}
		if err := tx.Create(&node).Error; err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityNode,
			EntityID:   node.ID,
			Action:     model.AuditActionCreate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			After:      audit.NodeSnapshot(&node),
		})
	})
	if txErr != nil {
		if errors.Is(txErr, errTooManyPrimaries) {
			return nil, httpx.ErrStateConflict("cluster already has a primary; promote through an update instead")
		}
		return nil, httpx.ErrDatabaseError("failed to create node", txErr)
	}

	s.logger.WithFields(logrus.Fields{"node": node.Name, "cluster": cluster.ID}).Info("node registered")
	d := dto.NewNodeDTO(&node)
	return &d, nil
}

// Remove deletes a node. Removing the cluster primary requires the
// explicit confirmPrimary flag; without it nothing is deleted.
func (s *Service) Remove(ctx context.Context, actor auth.Actor, nodeID int, confirmPrimary bool) *httpx.AppError {
	if !auth.HasPermission(actor.Role, auth.RoleAdmin) {
		return httpx.ErrForbidden("")
	}

	var node model.Node
	if err := s.db.First(&node, nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.ErrNotFound("node not found")
		}
		return httpx.ErrDatabaseError("failed to load node", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, cache.ClusterLockKey(node.ClusterID), lockTTL)
	if err != nil {
		return httpx.ErrStateConflict("cluster is busy with another change")
	}
	defer release()

	// Reload under the lock; role may have changed while we waited
	if err := s.db.First(&node, nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.ErrNotFound("node not found")
		}
		return httpx.ErrDatabaseError("failed to load node", err)
	}

	if node.IsPrimary() && !confirmPrimary {
		return httpx.ErrPreconditionFailed("node is the cluster primary; set confirmPrimary to delete it")
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Node{}, node.ID).Error; err != nil {
			return fmt.Errorf("failed to delete node: %w", err)
		}
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityNode,
			EntityID:   node.ID,
			Action:     model.AuditActionDelete,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     audit.NodeSnapshot(&node),
		})
	})
	if txErr != nil {
		return httpx.ErrDatabaseError("failed to delete node", txErr)
	}

	s.logger.WithFields(logrus.Fields{"node": node.Name, "cluster": node.ClusterID}).Info("node deleted")
	return nil
}

// TestConnection probes an ad-hoc connection URI without touching any
// stored state. A non-empty sslMode overrides the one in the URI. The
// probe result reports failure; only bad input is an error.
func (s *Service) TestConnection(ctx context.Context, actor auth.Actor, uri, sslMode string) (*conncheck.Result, *httpx.AppError) {
	if !auth.HasPermission(actor.Role, auth.RoleOperator) {
		return nil, httpx.ErrForbidden("")
	}
	if dsn.IsMasked(uri) {
		return nil, httpx.ErrParamInvalid("connection string is masked; provide the real password")
	}

	desc, err := dsn.Parse(uri)
	if err != nil {
		return nil, httpx.ErrParamInvalid(fmt.Sprintf("invalid connection string: %v", err))
	}
	if !desc.HasCredentials() {
		return nil, httpx.ErrParamInvalid("connection string must include user and password")
	}
	if sslMode != "" {
		desc.SSLMode = sslMode
	}

	res := s.checker.Check(ctx, dsn.Build(*desc))
	return &res, nil
}
