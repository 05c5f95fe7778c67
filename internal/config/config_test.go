package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("DB_DSN", "host=localhost user=pgplane dbname=pgplane")
	os.Setenv("JWT_SECRET", "test-secret")
	defer func() {
		os.Unsetenv("DB_DSN")
		os.Unsetenv("JWT_SECRET")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DB.DSN == "" {
		t.Error("DB DSN should not be empty")
	}

	if cfg.DB.Driver != "postgres" {
		t.Errorf("Expected default driver postgres, got %s", cfg.DB.Driver)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}

	if cfg.ConnCheck.TimeoutSec != 5 {
		t.Errorf("Expected conncheck timeout 5s, got %d", cfg.ConnCheck.TimeoutSec)
	}
}

func TestLoad_MissingDSN(t *testing.T) {
	os.Unsetenv("DB_DSN")
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when DB_DSN is missing")
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Setenv("DB_DSN", "host=localhost user=pgplane dbname=pgplane")
	os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("DB_DSN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	os.Setenv("DB_DSN", "host=localhost user=pgplane dbname=pgplane")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("DB_DRIVER", "oracle")
	defer func() {
		os.Unsetenv("DB_DSN")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("DB_DRIVER")
	}()

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("DB_DSN", "host=db.example.com user=cp dbname=cp")
	os.Setenv("DB_DRIVER", "mysql")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("REDIS_ENABLED", "1")
	os.Setenv("REDIS_ADDR", "redis.example.com:6379")
	os.Setenv("REDIS_PASS", "secret")
	os.Setenv("REDIS_DB", "5")
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("HEALTH_WORKER_CONCURRENCY", "3")

	defer func() {
		os.Unsetenv("DB_DSN")
		os.Unsetenv("DB_DRIVER")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("REDIS_ENABLED")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("REDIS_PASS")
		os.Unsetenv("REDIS_DB")
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("HEALTH_WORKER_CONCURRENCY")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DB.Driver != "mysql" {
		t.Errorf("Expected driver mysql, got %s", cfg.DB.Driver)
	}

	if !cfg.Redis.Enabled {
		t.Error("Expected Redis enabled")
	}

	if cfg.Redis.Addr != "redis.example.com:6379" {
		t.Errorf("Expected custom Redis addr, got %s", cfg.Redis.Addr)
	}

	if cfg.Redis.Password != "secret" {
		t.Errorf("Expected Redis password 'secret', got %s", cfg.Redis.Password)
	}

	if cfg.Redis.DB != 5 {
		t.Errorf("Expected Redis DB 5, got %d", cfg.Redis.DB)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("Expected HTTPAddr :9090, got %s", cfg.HTTPAddr)
	}

	if cfg.HealthWorker.Concurrency != 3 {
		t.Errorf("Expected worker concurrency 3, got %d", cfg.HealthWorker.Concurrency)
	}
}

func TestLoadFromINI(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "pgplane.ini")
	content := `[db]
driver = postgres
dsn = host=localhost user=pgplane dbname=pgplane

[jwt]
secret = ini-secret

[http]
addr = :7070

[healthWorker]
enabled = false
intervalSec = 60
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write ini: %v", err)
	}

	// Ensure env does not override
	os.Unsetenv("DB_DSN")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("HTTP_ADDR")

	cfg, err := LoadFromINI(iniPath)
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.JWT.Secret != "ini-secret" {
		t.Errorf("Expected secret from INI, got %s", cfg.JWT.Secret)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("Expected HTTPAddr :7070, got %s", cfg.HTTPAddr)
	}
	if cfg.HealthWorker.Enabled {
		t.Error("Expected health worker disabled from INI")
	}
	if cfg.HealthWorker.IntervalSec != 60 {
		t.Errorf("Expected interval 60, got %d", cfg.HealthWorker.IntervalSec)
	}
}

func TestLoadFromINI_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "pgplane.ini")
	content := `[db]
dsn = host=ini user=ini dbname=ini

[jwt]
secret = ini-secret
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write ini: %v", err)
	}

	os.Setenv("DB_DSN", "host=env user=env dbname=env")
	defer os.Unsetenv("DB_DSN")

	cfg, err := LoadFromINI(iniPath)
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.DB.DSN != "host=env user=env dbname=env" {
		t.Errorf("Expected env to override INI, got %s", cfg.DB.DSN)
	}
}
