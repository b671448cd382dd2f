package tags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tagvault/tagvault/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const joinTableName = "artifact_tags"

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies required by the tag store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns tag identity, per-owner name uniqueness and orphan disposal.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the tag store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("tags: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("tags: %w", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// GetOrCreate returns the tag registered under (ownerID, name), creating it
// when absent. The insert relies on the unique (owner_id, name) index rather
// than a read-then-write, so concurrent calls with the same key converge on a
// single row.
func (s *Service) GetOrCreate(ctx context.Context, ownerID string, name TagName) (Tag, error) {
	if ownerID == "" {
		return Tag{}, fmt.Errorf("tags: %w", errMissingOwnerID)
	}
	return s.GetOrCreateTx(s.db.WithContext(ctx), ownerID, name)
}

// GetOrCreateTx is the transaction-scoped variant of GetOrCreate, used by the
// artifact store when attaching a tag inside its own unit of work.
func (s *Service) GetOrCreateTx(tx *gorm.DB, ownerID string, name TagName) (Tag, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError("tags.get_or_create", "id_generation_failed", err)
		return Tag{}, err
	}

	candidate := Tag{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name.String(),
		CreatedAtMs: s.clock().UTC().UnixMilli(),
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&candidate).Error
	if err != nil {
		s.logError("tags.get_or_create", "insert_failed", err, zap.String("owner_id", ownerID))
		return Tag{}, err
	}

	var stored Tag
	if err := tx.Where("owner_id = ? AND name = ?", ownerID, name.String()).Take(&stored).Error; err != nil {
		s.logError("tags.get_or_create", "readback_failed", err, zap.String("owner_id", ownerID))
		return Tag{}, err
	}
	return stored, nil
}

// Create registers a stand-alone tag with zero attachments. A duplicate
// (owner, name) pair yields ErrTagNameTaken.
func (s *Service) Create(ctx context.Context, ownerID string, name TagName) (Tag, error) {
	if ownerID == "" {
		return Tag{}, fmt.Errorf("tags: %w", errMissingOwnerID)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError("tags.create", "id_generation_failed", err)
		return Tag{}, err
	}

	tag := Tag{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name.String(),
		CreatedAtMs: s.clock().UTC().UnixMilli(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&tag)
	if result.Error != nil {
		s.logError("tags.create", "insert_failed", result.Error, zap.String("owner_id", ownerID))
		return Tag{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Tag{}, fmt.Errorf("%w: %s", ErrTagNameTaken, name.String())
	}
	return tag, nil
}

// Delete removes the tag and every artifact association it holds. A tag id
// that exists under a different owner behaves exactly like a missing one.
func (s *Service) Delete(ctx context.Context, ownerID, tagID string) (Tag, error) {
	if ownerID == "" {
		return Tag{}, fmt.Errorf("tags: %w", errMissingOwnerID)
	}

	var deleted Tag
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, tagID).Take(&deleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrTagNotFound, tagID)
			}
			return err
		}
		if err := tx.Exec("DELETE FROM "+joinTableName+" WHERE tag_id = ?", tagID).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", tagID).Delete(&Tag{}).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrTagNotFound) {
			s.logError("tags.delete", "transaction_failed", txErr, zap.String("owner_id", ownerID), zap.String("tag_id", tagID))
		}
		return Tag{}, txErr
	}
	return deleted, nil
}

// List returns the owner's tags ordered by name ascending, each carrying its
// current artifact membership.
func (s *Service) List(ctx context.Context, ownerID string) ([]Membership, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("tags: %w", errMissingOwnerID)
	}

	var stored []Tag
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name ASC").
		Find(&stored).Error; err != nil {
		s.logError("tags.list", "query_failed", err, zap.String("owner_id", ownerID))
		return nil, err
	}

	memberships := make([]Membership, 0, len(stored))
	if len(stored) == 0 {
		return memberships, nil
	}

	tagIDs := make([]string, 0, len(stored))
	for _, tag := range stored {
		tagIDs = append(tagIDs, tag.ID)
	}

	type joinRow struct {
		TagID      string `gorm:"column:tag_id"`
		ArtifactID string `gorm:"column:artifact_id"`
	}
	var rows []joinRow
	if err := s.db.WithContext(ctx).
		Table(joinTableName).
		Where("tag_id IN ?", tagIDs).
		Find(&rows).Error; err != nil {
		s.logError("tags.list", "membership_query_failed", err, zap.String("owner_id", ownerID))
		return nil, err
	}

	byTag := make(map[string][]string, len(stored))
	for _, row := range rows {
		byTag[row.TagID] = append(byTag[row.TagID], row.ArtifactID)
	}
	for _, tag := range stored {
		memberships = append(memberships, Membership{Tag: tag, ArtifactIDs: byTag[tag.ID]})
	}
	return memberships, nil
}

// SweepIfOrphanTx deletes the tag when it no longer has artifact associations.
// It runs inside the caller's transaction so the zero-member check and the
// delete observe the same state. Sweeping an already-deleted tag is a no-op.
func (s *Service) SweepIfOrphanTx(tx *gorm.DB, tagID string) error {
	var remaining int64
	if err := tx.Table(joinTableName).Where("tag_id = ?", tagID).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return tx.Where("id = ?", tagID).Delete(&Tag{}).Error
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tag store error", attrs...)
}
