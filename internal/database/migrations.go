package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneDanglingTagLinks = "2026-07-14_prune_dangling_tag_links"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPruneDanglingTagLinks, apply: pruneDanglingTagLinks},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// pruneDanglingTagLinks removes join rows whose artifact or tag row is gone.
// Early deployments deleted artifacts without clearing their tag links.
func pruneDanglingTagLinks(db *gorm.DB) error {
	if err := db.Exec(
		"DELETE FROM artifact_tags WHERE artifact_id NOT IN (SELECT id FROM artifacts)",
	).Error; err != nil {
		return err
	}
	return db.Exec(
		"DELETE FROM artifact_tags WHERE tag_id NOT IN (SELECT id FROM tags)",
	).Error
}
