package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Migrate      bool
	HTTPAddr     string
	ConnCheck    ConnCheckConfig
	HealthWorker HealthWorkerConfig
}

// DBConfig holds metadata store configuration
type DBConfig struct {
	Driver string // "postgres" or "mysql"
	DSN    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration. Tokens are issued elsewhere; this
// service only validates them.
type JWTConfig struct {
	Secret string
	Issuer string
}

// ConnCheckConfig holds connectivity verifier configuration
type ConnCheckConfig struct {
	TimeoutSec int
}

// HealthWorkerConfig holds node health worker configuration
type HealthWorkerConfig struct {
	Enabled              bool
	IntervalSec          int
	TimeoutSec           int
	Concurrency          int
	OfflineFailThreshold int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DB: DBConfig{
			Driver: getEnv("DB_DRIVER", "postgres"),
			DSN:    getEnv("DB_DSN", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "0") == "1",
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer: getEnv("JWT_ISSUER", "pgplane"),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		ConnCheck: ConnCheckConfig{
			TimeoutSec: getEnvInt("CONNCHECK_TIMEOUT_SEC", 5),
		},
		HealthWorker: HealthWorkerConfig{
			Enabled:              getEnv("HEALTH_WORKER_ENABLED", "1") == "1",
			IntervalSec:          getEnvInt("HEALTH_WORKER_INTERVAL_SEC", 30),
			TimeoutSec:           getEnvInt("HEALTH_WORKER_TIMEOUT_SEC", 5),
			Concurrency:          getEnvInt("HEALTH_WORKER_CONCURRENCY", 10),
			OfflineFailThreshold: getEnvInt("HEALTH_WORKER_OFFLINE_THRESHOLD", 2),
		},
	}

	// Validate required fields
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "mysql" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		// Priority 2: INI file
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		// Priority 3: Default value
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		// Priority 2: INI file
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		// Priority 3: Default value
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		// Priority 1: Environment variable
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		// Priority 2: INI file
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		// Priority 3: Default value
		return defaultValue
	}

	cfg := &Config{
		DB: DBConfig{
			Driver: getValue("DB_DRIVER", "db", "driver", "postgres"),
			DSN:    getValue("DB_DSN", "db", "dsn", ""),
		},
		Redis: RedisConfig{
			Enabled:  getValueBool("REDIS_ENABLED", "redis", "enabled", false),
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret: getValue("JWT_SECRET", "jwt", "secret", ""),
			Issuer: getValue("JWT_ISSUER", "jwt", "issuer", "pgplane"),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
		ConnCheck: ConnCheckConfig{
			TimeoutSec: getValueInt("CONNCHECK_TIMEOUT_SEC", "conncheck", "timeout_sec", 5),
		},
		HealthWorker: HealthWorkerConfig{
			Enabled:              getValueBool("HEALTH_WORKER_ENABLED", "healthWorker", "enabled", true),
			IntervalSec:          getValueInt("HEALTH_WORKER_INTERVAL_SEC", "healthWorker", "intervalSec", 30),
			TimeoutSec:           getValueInt("HEALTH_WORKER_TIMEOUT_SEC", "healthWorker", "timeoutSec", 5),
			Concurrency:          getValueInt("HEALTH_WORKER_CONCURRENCY", "healthWorker", "concurrency", 10),
			OfflineFailThreshold: getValueInt("HEALTH_WORKER_OFFLINE_THRESHOLD", "healthWorker", "offlineFailThreshold", 2),
		},
	}

	// Validate required fields
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "mysql" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	return cfg, nil
}
