package nodes

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"pgplane/internal/auth"
	"pgplane/internal/cache"
	"pgplane/internal/conncheck"
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

// fakeChecker returns a canned result and records the URIs it probes
type fakeChecker struct {
	mu     sync.Mutex
	result conncheck.Result
	calls  []string
}

func (f *fakeChecker) Check(ctx context.Context, uri string) conncheck.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uri)
	return f.result
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChecker) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func okChecker(version string) *fakeChecker {
	return &fakeChecker{result: conncheck.Result{Success: true, PGVersion: version}}
}

func failChecker(msg string) *fakeChecker {
	return &fakeChecker{result: conncheck.Result{Success: false, Error: msg}}
}

func newTestService(db *gorm.DB, checker conncheck.Checker) *Service {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewService(db, checker, cache.NewLocalLocker(), logrus.NewEntry(logger))
}

func seedCluster(t *testing.T, db *gorm.DB) *model.Cluster {
	t.Helper()
	org := model.Organization{Name: "acme"}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("failed to seed org: %v", err)
	}
	project := model.Project{Name: "billing", OrgID: org.ID, Environment: model.ProjectEnvProduction}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	cluster := model.Cluster{
		Name:            "pg-main",
		ProjectID:       project.ID,
		Topology:        model.TopologyHA,
		ReplicationMode: model.ReplicationAsync,
		Status:          model.ClusterStatusHealthy,
	}
	if err := db.Create(&cluster).Error; err != nil {
		t.Fatalf("failed to seed cluster: %v", err)
	}
	return &cluster
}

func seedNode(t *testing.T, db *gorm.DB, clusterID int, name string, role model.NodeRole, conn string) *model.Node {
	t.Helper()
	node := model.Node{
		Name:      name,
		ClusterID: clusterID,
		Host:      "10.0.0.1",
		Port:      5432,
		Role:      role,
		Status:    model.NodeStatusOnline,
		Priority:  100,
	}
	if conn != "" {
		node.ConnectionString = conn
		node.ConnUser = "admin"
		node.ConnPassword = "s3cret"
		node.Database = "app"
		node.SSLMode = "require"
	}
	if err := db.Create(&node).Error; err != nil {
		t.Fatalf("failed to seed node %s: %v", name, err)
	}
	return &node
}

func reloadNode(t *testing.T, db *gorm.DB, id int) *model.Node {
	t.Helper()
	var node model.Node
	if err := db.First(&node, id).Error; err != nil {
		t.Fatalf("failed to reload node %d: %v", id, err)
	}
	return &node
}

func countPrimaries(t *testing.T, db *gorm.DB, clusterID int) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&model.Node{}).
		Where("cluster_id = ? AND role = ?", clusterID, model.NodeRolePrimary).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count primaries: %v", err)
	}
	return count
}

func countAudits(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&model.AuditLog{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count audits: %v", err)
	}
	return count
}

func assertConnectionUnchanged(t *testing.T, before, after *model.Node) {
	t.Helper()
	if after.ConnectionString != before.ConnectionString {
		t.Errorf("connection string changed: %q -> %q", before.ConnectionString, after.ConnectionString)
	}
	if after.ConnUser != before.ConnUser || after.ConnPassword != before.ConnPassword {
		t.Error("stored credentials changed")
	}
	if after.Host != before.Host || after.Port != before.Port {
		t.Errorf("host/port changed: %s:%d -> %s:%d", before.Host, before.Port, after.Host, after.Port)
	}
	if after.Database != before.Database || after.SSLMode != before.SSLMode {
		t.Error("database/sslmode changed")
	}
}

func assertNodeUnchanged(t *testing.T, before, after *model.Node) {
	t.Helper()
	assertConnectionUnchanged(t, before, after)
	if after.Name != before.Name {
		t.Errorf("name changed: %q -> %q", before.Name, after.Name)
	}
	if after.Role != before.Role {
		t.Errorf("role changed: %s -> %s", before.Role, after.Role)
	}
	if after.Status != before.Status {
		t.Errorf("status changed: %s -> %s", before.Status, after.Status)
	}
	if after.ConnectionVerified != before.ConnectionVerified {
		t.Error("verification state changed")
	}
}

func operator() auth.Actor { return auth.Actor{ID: 2, Name: "op", Role: "operator"} }
func admin() auth.Actor    { return auth.Actor{ID: 3, Name: "adm", Role: "admin"} }
func viewer() auth.Actor   { return auth.Actor{ID: 4, Name: "view", Role: "viewer"} }

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }
