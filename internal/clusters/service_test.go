package clusters

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"pgplane/internal/auth"
	"pgplane/internal/cache"
	"pgplane/internal/httpx"
	"pgplane/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	err = db.AutoMigrate(
		&model.Organization{},
		&model.Project{},
		&model.Cluster{},
		&model.Node{},
		&model.AuditLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(db *gorm.DB) *Service {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewService(db, cache.NewLocalLocker(), logrus.NewEntry(logger))
}

func seedProject(t *testing.T, db *gorm.DB) *model.Project {
	t.Helper()
	org := model.Organization{Name: "acme"}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("failed to seed org: %v", err)
	}
	project := model.Project{Name: "billing", OrgID: org.ID, Environment: model.ProjectEnvProduction}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return &project
}

func operator() auth.Actor { return auth.Actor{ID: 2, Name: "op", Role: "operator"} }
func admin() auth.Actor    { return auth.Actor{ID: 3, Name: "adm", Role: "admin"} }
func viewer() auth.Actor   { return auth.Actor{ID: 4, Name: "view", Role: "viewer"} }

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func primarySpec(name string) NodeSpec {
	return NodeSpec{
		Name:             name,
		Role:             string(model.NodeRolePrimary),
		ConnectionString: "postgresql://admin:pw@10.0.0.1:5432/app",
	}
}

func replicaSpec(name, host string) NodeSpec {
	return NodeSpec{
		Name:             name,
		Role:             string(model.NodeRoleReplica),
		ConnectionString: "postgresql://admin:pw@" + host + ":5432/app",
	}
}

func TestProvision_StandardCluster(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	detail, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Nodes:     []NodeSpec{primarySpec("pg-a")},
	})
	if appErr != nil {
		t.Fatalf("Provision failed: %v", appErr)
	}
	if detail.Status != string(model.ClusterStatusProvisioning) {
		t.Errorf("expected PROVISIONING status, got %s", detail.Status)
	}
	if detail.Topology != string(model.TopologyStandard) {
		t.Errorf("expected STANDARD topology, got %s", detail.Topology)
	}
	if detail.PoolingMode != string(model.PoolingTransaction) {
		t.Errorf("expected transaction pooling, got %s", detail.PoolingMode)
	}
	if len(detail.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(detail.Nodes))
	}
	if detail.Nodes[0].RoutingWeight != 100 {
		t.Errorf("a sole primary takes all reads, got weight %d", detail.Nodes[0].RoutingWeight)
	}
	if strings.Contains(detail.Nodes[0].ConnectionString, "pw") {
		t.Error("provision response leaked a password")
	}

	var entry model.AuditLog
	if err := db.First(&entry).Error; err != nil {
		t.Fatalf("expected audit record: %v", err)
	}
	if entry.EntityType != model.AuditEntityCluster || entry.Action != model.AuditActionCreate {
		t.Errorf("unexpected audit record: %s %s", entry.EntityType, entry.Action)
	}
}

func TestProvision_HAClusterNeedsTwoNodes(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Topology:  string(model.TopologyHA),
		Nodes:     []NodeSpec{primarySpec("pg-a")},
	})
	if appErr == nil || appErr.Code != httpx.CodeParamIllegal {
		t.Fatalf("expected illegal-param error, got %v", appErr)
	}

	var count int64
	db.Model(&model.Cluster{}).Count(&count)
	if count != 0 {
		t.Error("failed provision must not persist a cluster")
	}
}

func TestProvision_TwoPrimariesRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Topology:  string(model.TopologyHA),
		Nodes:     []NodeSpec{primarySpec("pg-a"), primarySpec("pg-b")},
	})
	if appErr == nil || appErr.Code != httpx.CodeParamIllegal {
		t.Fatalf("expected illegal-param error, got %v", appErr)
	}
}

func TestProvision_NoPrimaryRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Nodes:     []NodeSpec{replicaSpec("pg-a", "10.0.0.2")},
	})
	if appErr == nil || appErr.Code != httpx.CodeParamIllegal {
		t.Fatalf("expected illegal-param error, got %v", appErr)
	}
}

func TestProvision_EmptyTopologyAllowed(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	detail, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
	})
	if appErr != nil {
		t.Fatalf("Provision failed: %v", appErr)
	}
	if len(detail.Nodes) != 0 {
		t.Errorf("expected empty cluster, got %d nodes", len(detail.Nodes))
	}
}

func TestProvision_DuplicateNodeNamesRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Topology:  string(model.TopologyHA),
		Nodes:     []NodeSpec{primarySpec("pg-a"), replicaSpec("pg-a", "10.0.0.2")},
	})
	if appErr == nil || appErr.Code != httpx.CodeParamIllegal {
		t.Fatalf("expected illegal-param error, got %v", appErr)
	}
}

func TestProvision_InvalidNodeConnectionRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Nodes: []NodeSpec{{
			Name:             "pg-a",
			Role:             string(model.NodeRolePrimary),
			ConnectionString: "postgresql://10.0.0.1:5432/app",
		}},
	})
	if appErr == nil || appErr.Code != httpx.CodeParamInvalid {
		t.Fatalf("expected invalid-param error, got %v", appErr)
	}
}

func TestProvision_DuplicateClusterNameRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	if _, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID, Name: "pg-main",
	}); appErr != nil {
		t.Fatalf("first Provision failed: %v", appErr)
	}
	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID, Name: "pg-main",
	})
	if appErr == nil || appErr.Code != httpx.CodeAlreadyExists {
		t.Fatalf("expected already-exists error, got %v", appErr)
	}
}

func TestProvision_ProjectNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)

	_, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: 424242, Name: "pg-main",
	})
	if appErr == nil || appErr.Code != httpx.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", appErr)
	}
}

func TestProvision_PermissionDenied(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)

	_, appErr := svc.Provision(context.Background(), viewer(), ProvisionParams{
		ProjectID: project.ID, Name: "pg-main",
	})
	if appErr == nil || appErr.Code != httpx.CodeForbidden {
		t.Fatalf("expected forbidden error, got %v", appErr)
	}
}

func TestUpdate_PoolerSettings(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID, Name: "pg-main",
	})
	if appErr != nil {
		t.Fatalf("Provision failed: %v", appErr)
	}

	updated, appErr := svc.Update(context.Background(), operator(), detail.ID, UpdateParams{
		PoolingMode:     strPtr(string(model.PoolingSession)),
		DefaultPoolSize: intPtr(50),
	})
	if appErr != nil {
		t.Fatalf("Update failed: %v", appErr)
	}
	if updated.PoolingMode != string(model.PoolingSession) {
		t.Errorf("expected session pooling, got %s", updated.PoolingMode)
	}
	if updated.DefaultPoolSize != 50 {
		t.Errorf("expected pool size 50, got %d", updated.DefaultPoolSize)
	}

	var count int64
	db.Model(&model.AuditLog{}).Where("action = ?", model.AuditActionUpdate).Count(&count)
	if count != 1 {
		t.Errorf("expected one update audit record, got %d", count)
	}
}

func TestUpdate_RenameToExistingRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: project.ID, Name: "pg-a"})
	detail, _ := svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: project.ID, Name: "pg-b"})

	_, appErr := svc.Update(context.Background(), operator(), detail.ID, UpdateParams{
		Name: strPtr("pg-a"),
	})
	if appErr == nil || appErr.Code != httpx.CodeAlreadyExists {
		t.Fatalf("expected already-exists error, got %v", appErr)
	}
}

func TestUpdate_InvalidPoolingModeRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, _ := svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: project.ID, Name: "pg-a"})

	_, appErr := svc.Update(context.Background(), operator(), detail.ID, UpdateParams{
		PoolingMode: strPtr("statement"),
	})
	if appErr == nil || appErr.Code != httpx.CodeParamIllegal {
		t.Fatalf("expected illegal-param error, got %v", appErr)
	}
}

func TestUpdate_NoopWritesNoAudit(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, _ := svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: project.ID, Name: "pg-a"})

	if _, appErr := svc.Update(context.Background(), operator(), detail.ID, UpdateParams{}); appErr != nil {
		t.Fatalf("Update failed: %v", appErr)
	}
	var count int64
	db.Model(&model.AuditLog{}).Where("action = ?", model.AuditActionUpdate).Count(&count)
	if count != 0 {
		t.Errorf("no-op update must not write audits, got %d", count)
	}
}

func TestDelete_WithNodesNeedsForce(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, appErr := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Nodes:     []NodeSpec{primarySpec("pg-a")},
	})
	if appErr != nil {
		t.Fatalf("Provision failed: %v", appErr)
	}

	appErr = svc.Delete(context.Background(), admin(), detail.ID, false)
	if appErr == nil || appErr.Code != httpx.CodePreconditionFailed {
		t.Fatalf("expected precondition-failed error, got %v", appErr)
	}

	var count int64
	db.Model(&model.Cluster{}).Count(&count)
	if count != 1 {
		t.Error("cluster must survive an unforced delete")
	}
}

func TestDelete_ForceRemovesNodes(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, _ := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID,
		Name:      "pg-main",
		Topology:  string(model.TopologyHA),
		Nodes:     []NodeSpec{primarySpec("pg-a"), replicaSpec("pg-b", "10.0.0.2")},
	})

	if appErr := svc.Delete(context.Background(), admin(), detail.ID, true); appErr != nil {
		t.Fatalf("Delete failed: %v", appErr)
	}

	var clusters, nodes int64
	db.Model(&model.Cluster{}).Count(&clusters)
	db.Model(&model.Node{}).Count(&nodes)
	if clusters != 0 || nodes != 0 {
		t.Errorf("expected everything gone, got %d clusters %d nodes", clusters, nodes)
	}

	var entry model.AuditLog
	if err := db.Where("action = ?", model.AuditActionDelete).First(&entry).Error; err != nil {
		t.Fatalf("expected delete audit record: %v", err)
	}
}

func TestDelete_EmptyClusterNeedsNoForce(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, _ := svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: project.ID, Name: "pg-a"})

	if appErr := svc.Delete(context.Background(), admin(), detail.ID, false); appErr != nil {
		t.Fatalf("Delete failed: %v", appErr)
	}
}

func TestDelete_RequiresAdmin(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	detail, _ := svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: project.ID, Name: "pg-a"})

	appErr := svc.Delete(context.Background(), operator(), detail.ID, false)
	if appErr == nil || appErr.Code != httpx.CodeForbidden {
		t.Fatalf("expected forbidden error, got %v", appErr)
	}
}

func TestList_FiltersByProject(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	other := model.Project{Name: "analytics", OrgID: project.OrgID}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID, Name: "pg-a",
		Nodes: []NodeSpec{primarySpec("n1")},
	})
	svc.Provision(context.Background(), operator(), ProvisionParams{ProjectID: other.ID, Name: "pg-b"})

	all, appErr := svc.List(0)
	if appErr != nil {
		t.Fatalf("List failed: %v", appErr)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(all))
	}
	if all[0].NodeCount != 1 || all[1].NodeCount != 0 {
		t.Errorf("unexpected node counts: %d, %d", all[0].NodeCount, all[1].NodeCount)
	}

	filtered, appErr := svc.List(project.ID)
	if appErr != nil {
		t.Fatalf("List failed: %v", appErr)
	}
	if len(filtered) != 1 || filtered[0].Name != "pg-a" {
		t.Errorf("unexpected filter result: %+v", filtered)
	}
}

func TestGetDetail_MasksNodeSecrets(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	project := seedProject(t, db)
	created, _ := svc.Provision(context.Background(), operator(), ProvisionParams{
		ProjectID: project.ID, Name: "pg-a",
		Nodes: []NodeSpec{primarySpec("n1")},
	})

	detail, appErr := svc.GetDetail(created.ID)
	if appErr != nil {
		t.Fatalf("GetDetail failed: %v", appErr)
	}
	if len(detail.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(detail.Nodes))
	}
	if !strings.Contains(detail.Nodes[0].ConnectionString, ":***@") {
		t.Errorf("expected masked connection string, got %q", detail.Nodes[0].ConnectionString)
	}
}

func TestGetDetail_NotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)

	_, appErr := svc.GetDetail(99999)
	if appErr == nil || appErr.Code != httpx.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", appErr)
	}
}
