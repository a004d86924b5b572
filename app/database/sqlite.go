package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitializeSQLite sets up an embedded SQLite database. Used when no
// PostgreSQL server is configured, keeping the ledger in a local file.
func InitializeSQLite(path string) error {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		dir := filepath.Join(configDir, "verifactu")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		path = filepath.Join(dir, "verifactu.db")
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	instance, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}

	// Single writer: the chain is serialized through one connection anyway
	sqlDB, err := instance.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db = instance

	if err := RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
