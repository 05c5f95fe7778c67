package clusters

import (
	"context"
	"errors"
	"fmt"

	"pgplane/internal/audit"
	"pgplane/internal/auth"
	"pgplane/internal/cache"
	"pgplane/internal/httpx"
	"pgplane/internal/model"
	"pgplane/internal/routing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func (s *Service) loadClusterNodes(clusterID int) (*model.Cluster, []model.Node, *httpx.AppError) {
	var cluster model.Cluster
	if err := s.db.First(&cluster, clusterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, httpx.ErrNotFound("cluster not found")
		}
		return nil, nil, httpx.ErrDatabaseError("failed to load cluster", err)
	}
	var nodes []model.Node
	if err := s.db.Where("cluster_id = ?", cluster.ID).Order("id").Find(&nodes).Error; err != nil {
		return nil, nil, httpx.ErrDatabaseError("failed to load nodes", err)
	}
	return &cluster, nodes, nil
}

func routingPolicy(primaryReadShare *int) routing.Policy {
	p := routing.Policy{PrimaryReadShare: routing.DefaultPrimaryReadShare}
	if primaryReadShare != nil {
		p.PrimaryReadShare = *primaryReadShare
	}
	return p
}

// RoutingPreview computes the weight distribution the current node set
// would receive, without writing anything
func (s *Service) RoutingPreview(clusterID int, primaryReadShare *int) ([]routing.Assignment, *httpx.AppError) {
	_, nodes, appErr := s.loadClusterNodes(clusterID)
	if appErr != nil {
		return nil, appErr
	}
	return routing.Distribute(nodes, routingPolicy(primaryReadShare)), nil
}

// RoutingApply recomputes read weights from the live node set and
// persists them on the node rows
func (s *Service) RoutingApply(ctx context.Context, actor auth.Actor, clusterID int, primaryReadShare *int) ([]routing.Assignment, *httpx.AppError) {
	if !auth.HasPermission(actor.Role, auth.RoleOperator) {
		return nil, httpx.ErrForbidden("")
	}

	cluster, _, appErr := s.loadClusterNodes(clusterID)
	if appErr != nil {
		return nil, appErr
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, cache.ClusterLockKey(cluster.ID), lockTTL)
	if err != nil {
		return nil, httpx.ErrStateConflict("cluster is busy with another change")
	}
	defer release()

	// Reload under the lock so the weights match the committed node set
	_, nodes, appErr := s.loadClusterNodes(clusterID)
	if appErr != nil {
		return nil, appErr
	}

	assignments := routing.Distribute(nodes, routingPolicy(primaryReadShare))

	before := map[string]any{}
	after := map[string]any{}
	changed := false
	for i, a := range assignments {
		if nodes[i].RoutingWeight != a.Weight {
			changed = true
		}
		before[a.Name] = nodes[i].RoutingWeight
		after[a.Name] = a.Weight
	}
	if !changed {
		return assignments, nil
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		for i, a := range assignments {
			if nodes[i].RoutingWeight == a.Weight {
				continue
			}
			if err := tx.Model(&model.Node{}).Where("id = ?", a.NodeID).
				Update("routing_weight", a.Weight).Error; err != nil {
				return fmt.Errorf("failed to update weight for node %d: %w", a.NodeID, err)
			}
		}
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityCluster,
			EntityID:   cluster.ID,
			Action:     model.AuditActionUpdate,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     map[string]any{"routing_weights": before},
			After:      map[string]any{"routing_weights": after},
		})
	})
	if txErr != nil {
		return nil, httpx.ErrDatabaseError("failed to apply routing weights", txErr)
	}

	s.logger.WithFields(logrus.Fields{"cluster": cluster.Name, "nodes": len(nodes)}).Info("routing weights applied")
	return assignments, nil
}
