package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/owners"
	"github.com/tagvault/tagvault/internal/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for every persisted model,
// including the artifact_tags join table behind the many-to-many relation.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&tags.Tag{},
		&artifacts.Artifact{},
		&owners.Owner{},
		&migrationRecord{},
	)
}
