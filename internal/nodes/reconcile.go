package nodes

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

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReconcileParams carries the requested changes to one node. Nil fields
// are left untouched.
type ReconcileParams struct {
	Name               *string
	Role               *string
	Status             *string
	ConnectionString   *string
	SSLMode            *string
	ReplicationEnabled *bool
	SyncEnabled        *bool
	SyncStatus         *string
	Priority           *int
	RoutingWeight      *int
	// TestConnection defaults to true when nil
	TestConnection *bool
}

// ReconcileResult is the masked outcome of a reconciliation
type ReconcileResult struct {
	Node         dto.NodeDTO `json:"node"`
	DemotedNodes []string    `json:"demotedNodes"`
}

// Reconcile applies the requested changes to a node. Promoting a node to
// PRIMARY demotes every other primary in the cluster inside the same
// transaction, so the cluster never commits with two primaries. All
// staged fields land in a single write; a validation or connectivity
// failure on a modified connection leaves the record untouched.
func (s *Service) Reconcile(ctx context.Context, actor auth.Actor, nodeID int, p ReconcileParams) (*ReconcileResult, *httpx.AppError) {
	// Permission is checked before any other work, even the existence
	// of the node.
	if !auth.HasPermission(actor.Role, auth.RoleOperator) {
		return nil, httpx.ErrForbidden("")
	}

	var node model.Node
	if err := s.db.First(&node, nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("node not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load node", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, cache.ClusterLockKey(node.ClusterID), lockTTL)
	if err != nil {
		return nil, httpx.ErrStateConflict("cluster is busy with another reconciliation")
	}
	defer release()

	// Reload under the lock; state may have moved while we waited
	if err := s.db.First(&node, nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.ErrNotFound("node not found")
		}
		return nil, httpx.ErrDatabaseError("failed to load node", err)
	}

	if p.Role != nil && *p.Role != string(model.NodeRolePrimary) && *p.Role != string(model.NodeRoleReplica) {
		return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid role %q", *p.Role))
	}
	if p.Status != nil && !validNodeStatus(*p.Status) {
		return nil, httpx.ErrParamIllegal(fmt.Sprintf("invalid status %q", *p.Status))
	}

	before := audit.NodeSnapshot(&node)
	staged := map[string]interface{}{}

	// Stage connection changes. A masked placeholder is the client
	// echoing our own display form back; it carries no credentials.
	connString := node.ConnectionString
	connModified := false
	newConnRequested := p.ConnectionString != nil && *p.ConnectionString != "" && !dsn.IsMasked(*p.ConnectionString)

	if newConnRequested {
		desc, err := dsn.Parse(*p.ConnectionString)
		if err != nil {
			return nil, httpx.ErrParamInvalid(fmt.Sprintf("invalid connection string: %v", err))
		}
		if !desc.HasCredentials() {
			return nil, httpx.ErrParamInvalid("connection string must include user and password")
		}
		// SSL mode precedence: request, then the parsed URI's mode
		// (which already falls back to the system default)
		if p.SSLMode != nil && *p.SSLMode != "" {
			desc.SSLMode = *p.SSLMode
		}
		canonical := dsn.Build(*desc)

		connString = canonical
		connModified = true
		staged["connection_string"] = canonical
		staged["host"] = desc.Host
		staged["port"] = desc.Port
		staged["conn_user"] = desc.User
		staged["conn_password"] = desc.Password
		staged["database"] = desc.Database
		staged["ssl_mode"] = desc.SSLMode
	} else if p.SSLMode != nil && *p.SSLMode != "" && *p.SSLMode != node.SSLMode {
		if node.ConnectionString != "" {
			desc, err := dsn.Parse(node.ConnectionString)
			if err != nil {
				return nil, httpx.ErrInternalError("stored connection string is invalid", err)
			}
			desc.SSLMode = *p.SSLMode
			canonical := dsn.Build(*desc)
			connString = canonical
			connModified = true
			staged["connection_string"] = canonical
		}
		staged["ssl_mode"] = *p.SSLMode
	}

	if p.Name != nil && *p.Name != "" && *p.Name != node.Name {
		var count int64
		if err := s.db.Model(&model.Node{}).
			Where("cluster_id = ? AND name = ? AND id <> ?", node.ClusterID, *p.Name, node.ID).
			Count(&count).Error; err != nil {
			return nil, httpx.ErrDatabaseError("failed to check name uniqueness", err)
		}
		if count > 0 {
			return nil, httpx.ErrAlreadyExists("node name already exists in this cluster")
		}
		staged["name"] = *p.Name
	}

	// Connectivity test: on by default, runs whenever any connection
	// string is available. A failure aborts only when this request
	// modified the connection; otherwise it just lands in the
	// verification fields.
	testRequested := p.TestConnection == nil || *p.TestConnection
	if testRequested && connString != "" {
		res := s.checker.Check(ctx, connString)
		now := time.Now()
		if res.Success {
			staged["connection_verified"] = true
			staged["connection_error"] = nil
			staged["pg_version"] = res.PGVersion
			staged["last_connection_test"] = now
			staged["check_fail_count"] = 0
		} else {
			if connModified {
				return nil, httpx.ErrConnTestFailed("", errors.New(res.Error)).
					WithData(map[string]any{"allowForce": true, "error": res.Error})
			}
			errMsg := res.Error
			if len(errMsg) > connErrorMaxLen {
				errMsg = errMsg[:connErrorMaxLen]
			}
			staged["connection_verified"] = false
			staged["connection_error"] = &errMsg
			staged["last_connection_test"] = now
			staged["check_fail_count"] = node.CheckFailCount + 1
		}
	}

	if p.Status != nil {
		staged["status"] = *p.Status
	}
	if p.ReplicationEnabled != nil {
		staged["replication_enabled"] = *p.ReplicationEnabled
	}
	if p.SyncEnabled != nil {
		staged["sync_enabled"] = *p.SyncEnabled
	}
	if p.SyncStatus != nil {
		staged["sync_status"] = *p.SyncStatus
	}
	if p.Priority != nil {
		staged["priority"] = *p.Priority
	}
	if p.RoutingWeight != nil {
		staged["routing_weight"] = *p.RoutingWeight
	}

	promote := p.Role != nil && *p.Role == string(model.NodeRolePrimary) && node.Role != model.NodeRolePrimary
	if p.Role != nil && string(node.Role) != *p.Role {
		staged["role"] = *p.Role
	}

	demotedNodes := []string{}
	if len(staged) == 0 {
		// Nothing to change; report current state without an audit row
		d := dto.NewNodeDTO(&node)
		return &ReconcileResult{Node: d, DemotedNodes: demotedNodes}, nil
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if promote {
			var others []model.Node
			if err := tx.Where("cluster_id = ? AND id <> ? AND role = ?",
				node.ClusterID, node.ID, model.NodeRolePrimary).
				Order("id").Find(&others).Error; err != nil {
				return err
			}
			if len(others) > 0 {
				ids := make([]int, len(others))
				for i, o := range others {
					ids[i] = o.ID
					demotedNodes = append(demotedNodes, o.Name)
				}
				if err := tx.Model(&model.Node{}).Where("id IN ?", ids).
					Update("role", model.NodeRoleReplica).Error; err != nil {
					return err
				}
			}
		}

		if err := tx.Model(&model.Node{}).Where("id = ?", node.ID).Updates(staged).Error; err != nil {
			return err
		}

		// Recount after the write: no interleaving may leave two
		// primaries committed.
		if p.Role != nil {
			var primaries int64
			if err := tx.Model(&model.Node{}).
				Where("cluster_id = ? AND role = ?", node.ClusterID, model.NodeRolePrimary).
				Count(&primaries).Error; err != nil {
				return err
			}
			if primaries > 1 {
				return errTooManyPrimaries
			}
		}

		if err := tx.First(&node, node.ID).Error; err != nil {
			return err
		}

		action := model.AuditActionUpdate
		if promote {
			action = model.AuditActionPromote
		}
		return s.auditor.Record(tx, audit.Entry{
			EntityType: model.AuditEntityNode,
			EntityID:   node.ID,
			Action:     action,
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Before:     before,
			After:      audit.NodeSnapshot(&node),
		})
	})
	if txErr != nil {
		if errors.Is(txErr, errTooManyPrimaries) {
			return nil, httpx.ErrStateConflict("concurrent change left the cluster with two primaries; retry")
		}
		return nil, httpx.ErrDatabaseError("failed to apply node update", txErr)
	}

	s.logger.WithFields(logrus.Fields{
		"node":    node.Name,
		"cluster": node.ClusterID,
		"promote": promote,
		"demoted": len(demotedNodes),
	}).Info("node reconciled")

	return &ReconcileResult{Node: dto.NewNodeDTO(&node), DemotedNodes: demotedNodes}, nil
}

func validNodeStatus(s string) bool {
	switch model.NodeStatus(s) {
	case model.NodeStatusOnline, model.NodeStatusOffline, model.NodeStatusDegraded:
		return true
	}
	return false
}
