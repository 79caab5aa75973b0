package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN is a shared in-memory sqlite database.
const MemoryDSN = "file::memory:?cache=shared"

// Open opens the sqlite database at path and migrates the session tables.
// An empty path or MemoryDSN opens an in-memory database.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = MemoryDSN
	}
	if dsn != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dsn, err)
	}
	if err := AutoMigrate(database); err != nil {
		return nil, err
	}
	return database, nil
}

// AutoMigrate creates database tables
func AutoMigrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&Session{}, &Branch{}, &ComparisonEntry{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
