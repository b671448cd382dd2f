package database

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/tags"
	"gorm.io/gorm"
)

func newMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tagvault_migrations_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestPruneDanglingTagLinks(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := db.Create(&tags.Tag{ID: "tag-1", OwnerID: "owner-1", Name: "work"}).Error; err != nil {
		t.Fatalf("failed to seed tag: %v", err)
	}
	if err := db.Create(&artifacts.Artifact{ID: "artifact-1", OwnerID: "owner-1", Kind: artifacts.KindText, TextContent: "x"}).Error; err != nil {
		t.Fatalf("failed to seed artifact: %v", err)
	}
	seedRows := [][2]string{
		{"artifact-1", "tag-1"},    // intact
		{"artifact-gone", "tag-1"}, // artifact missing
		{"artifact-1", "tag-gone"}, // tag missing
	}
	for _, row := range seedRows {
		if err := db.Exec("INSERT INTO artifact_tags (artifact_id, tag_id) VALUES (?, ?)", row[0], row[1]).Error; err != nil {
			t.Fatalf("failed to seed join row: %v", err)
		}
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var remaining int64
	if err := db.Table("artifact_tags").Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count join rows: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected only the intact link to survive, got %d", remaining)
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("second run should be a no-op, got %v", err)
	}

	var records int64
	if err := db.Model(&migrationRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected one migration record, got %d", records)
	}
}
