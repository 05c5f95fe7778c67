package db

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var conn *gorm.DB

// Init opens the metadata store with the configured driver
func Init(driver, dsn string) error {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	conn = database

	log.Println("✓ Database connected successfully")
	return nil
}

// GetDB returns the shared database handle
func GetDB() *gorm.DB {
	return conn
}

// SetDB replaces the shared handle, used by tests
func SetDB(database *gorm.DB) {
	conn = database
}

// Close closes the underlying connection pool
func Close() error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
