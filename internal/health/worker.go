// Package health runs the periodic connectivity sweep over registered
// nodes. The sweep only ever writes verification and status fields; a
// node's role and connection settings belong to the reconciler.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pgplane/internal/audit"
	"pgplane/internal/auth"
	"pgplane/internal/conncheck"
	"pgplane/internal/model"
)

const errorMaxLen = 512

// Worker runs periodic health checks against every node with a stored
// connection string
type Worker struct {
	ctx                  context.Context
	cancel               context.CancelFunc
	db                   *gorm.DB
	checker              conncheck.Checker
	auditor              *audit.Recorder
	logger               *logrus.Entry
	interval             time.Duration
	timeout              time.Duration
	offlineFailThreshold int
	concurrency          int
}

// Config holds the configuration for the health check worker
type Config struct {
	DB                   *gorm.DB
	Checker              conncheck.Checker
	Logger               *logrus.Entry
	IntervalSec          int
	TimeoutSec           int
	OfflineFailThreshold int
	Concurrency          int
}

// CheckResult holds the result of a single manual health check
type CheckResult struct {
	NodeID             int        `json:"nodeId"`
	OK                 bool       `json:"ok"`
	Status             string     `json:"status"`
	PGVersion          string     `json:"pgVersion"`
	LastConnectionTest *time.Time `json:"lastConnectionTest"`
	Error              string     `json:"error"`
}

// NewWorker creates a new health check worker
func NewWorker(cfg *Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		ctx:                  ctx,
		cancel:               cancel,
		db:                   cfg.DB,
		checker:              cfg.Checker,
		auditor:              audit.NewRecorder(cfg.DB),
		logger:               cfg.Logger.WithField("component", "health-worker"),
		interval:             time.Duration(cfg.IntervalSec) * time.Second,
		timeout:              time.Duration(cfg.TimeoutSec) * time.Second,
		offlineFailThreshold: cfg.OfflineFailThreshold,
		concurrency:          cfg.Concurrency,
	}
}

// Start begins the periodic health checks
func (w *Worker) Start() {
	w.logger.Info("Starting node health worker...")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.runHealthChecks()
			case <-w.ctx.Done():
				w.logger.Info("Stopping node health worker...")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.cancel()
}

func (w *Worker) runHealthChecks() {
	var nodes []model.Node
	if err := w.db.Where("connection_string <> ''").Find(&nodes).Error; err != nil {
		w.logger.Errorf("Failed to fetch nodes for health check: %v", err)
		return
	}

	if len(nodes) == 0 {
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, w.concurrency)

	clusters := map[int]bool{}
	for _, node := range nodes {
		clusters[node.ClusterID] = true
		wg.Add(1)
		semaphore <- struct{}{}
		go func(n model.Node) {
			defer wg.Done()
			defer func() { <-semaphore }()
			w.checkNode(&n)
		}(node)
	}

	wg.Wait()

	for clusterID := range clusters {
		w.updateClusterStatus(clusterID)
	}
}

func (w *Worker) checkNode(node *model.Node) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	res := w.checker.Check(ctx, node.ConnectionString)
	if res.Success {
		w.handleSuccess(node, res)
	} else {
		w.handleFailure(node, res.Error)
	}
}

func (w *Worker) handleSuccess(node *model.Node, res conncheck.Result) {
	updates := map[string]interface{}{
		"connection_verified":  true,
		"connection_error":     nil,
		"pg_version":           res.PGVersion,
		"last_connection_test": time.Now(),
		"check_fail_count":     0,
		"status":               model.NodeStatusOnline,
	}

	if err := w.db.Model(node).Updates(updates).Error; err != nil {
		w.logger.Errorf("Failed to update node %d on success: %v", node.ID, err)
	}
}

func (w *Worker) handleFailure(node *model.Node, probeErr string) {
	errorMsg := probeErr
	if len(errorMsg) > errorMaxLen {
		errorMsg = errorMsg[:errorMaxLen]
	}

	newFailCount := node.CheckFailCount + 1
	status := model.NodeStatusDegraded
	if newFailCount >= w.offlineFailThreshold {
		status = model.NodeStatusOffline
	}

	updates := map[string]interface{}{
		"connection_verified":  false,
		"connection_error":     &errorMsg,
		"last_connection_test": time.Now(),
		"check_fail_count":     newFailCount,
		"status":               status,
	}

	if err := w.db.Model(node).Updates(updates).Error; err != nil {
		w.logger.Errorf("Failed to update node %d on failure: %v", node.ID, err)
	}
}

// updateClusterStatus derives the cluster's aggregate status from its
// nodes. PROVISIONING ends with the first sweep that sees the cluster.
func (w *Worker) updateClusterStatus(clusterID int) {
	var nodes []model.Node
	if err := w.db.Where("cluster_id = ?", clusterID).Find(&nodes).Error; err != nil {
		w.logger.Errorf("Failed to fetch nodes for cluster %d: %v", clusterID, err)
		return
	}
	if len(nodes) == 0 {
		return
	}

	primaryOnline := false
	allOnline := true
	for _, n := range nodes {
		if n.Status != model.NodeStatusOnline {
			allOnline = false
		}
		if n.Role == model.NodeRolePrimary && n.Status == model.NodeStatusOnline {
			primaryOnline = true
		}
	}

	status := model.ClusterStatusOffline
	switch {
	case allOnline:
		status = model.ClusterStatusHealthy
	case primaryOnline:
		status = model.ClusterStatusDegraded
	}

	if err := w.db.Model(&model.Cluster{}).Where("id = ?", clusterID).
		Update("status", status).Error; err != nil {
		w.logger.Errorf("Failed to update cluster %d status: %v", clusterID, err)
	}
}

// CheckNodes performs an immediate health check on a list of nodes and
// writes one audit entry per node on behalf of the actor
func (w *Worker) CheckNodes(actor auth.Actor, nodeIDs []int) []CheckResult {
	var nodes []model.Node
	if err := w.db.Where("id IN ?", nodeIDs).Find(&nodes).Error; err != nil {
		w.logger.Errorf("Failed to fetch nodes for manual check: %v", err)
		return nil
	}

	results := make([]CheckResult, len(nodes))
	var wg sync.WaitGroup
	resultChan := make(chan CheckResult, len(nodes))

	for _, node := range nodes {
		wg.Add(1)
		go func(n model.Node) {
			defer wg.Done()

			if n.ConnectionString == "" {
				resultChan <- CheckResult{
					NodeID: n.ID,
					Status: string(n.Status),
					Error:  "node has no connection string",
				}
				return
			}

			w.checkNode(&n)

			// Re-fetch to report the state the check left behind
			var updated model.Node
			w.db.First(&updated, n.ID)

			result := CheckResult{
				NodeID:             updated.ID,
				Status:             string(updated.Status),
				PGVersion:          updated.PGVersion,
				LastConnectionTest: updated.LastConnectionTest,
			}
			if updated.ConnectionError != nil {
				result.Error = *updated.ConnectionError
			}
			result.OK = result.Error == ""

			_ = w.auditor.Record(nil, audit.Entry{
				EntityType: model.AuditEntityNode,
				EntityID:   updated.ID,
				Action:     model.AuditActionConnTest,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				After: map[string]any{
					"connection_verified": updated.ConnectionVerified,
					"status":              string(updated.Status),
					"pg_version":          updated.PGVersion,
					"check_fail_count":    updated.CheckFailCount,
				},
			})

			resultChan <- result

			w.updateClusterStatus(n.ClusterID)
		}(node)
	}

	wg.Wait()
	close(resultChan)

	i := 0
	for res := range resultChan {
		results[i] = res
		i++
	}

	return results
}
