package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tagvault/tagvault/internal/ids"
	"github.com/tagvault/tagvault/internal/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const joinTableName = "artifact_tags"

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTagStore   = errors.New("tag store is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "artifacts.service.new"
	opCreate     = "artifacts.create"
	opDelete     = "artifacts.delete"
	opUpdateText = "artifacts.update_text"
	opAttachTag  = "artifacts.attach_tag"
	opDetachTag  = "artifacts.detach_tag"
	opQuery      = "artifacts.query"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// BlobDeleter disposes of the stored blob behind a FILE artifact. It is an
// external collaborator; a nil deleter turns blob disposal into a no-op.
type BlobDeleter interface {
	Delete(ctx context.Context, ownerID, fileName string) error
}

// ServiceConfig describes the dependencies required by the artifact store.
type ServiceConfig struct {
	Database   *gorm.DB
	TagStore   *tags.Service
	Clock      func() time.Time
	IDProvider ids.Provider
	Blobs      BlobDeleter
	Logger     *zap.Logger
}

// Service owns artifact records and their relation to tags. It composes the
// tag store for attach/detach and orphan sweeping.
type Service struct {
	db         *gorm.DB
	tagStore   *tags.Service
	clock      func() time.Time
	idProvider ids.Provider
	blobs      BlobDeleter
	logger     *zap.Logger
}

// NewService constructs the artifact store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.TagStore == nil {
		return nil, newServiceError(opServiceNew, "missing_tag_store", errMissingTagStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
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
		tagStore:   cfg.TagStore,
		clock:      clock,
		idProvider: cfg.IDProvider,
		blobs:      cfg.Blobs,
		logger:     logger,
	}, nil
}

// CreateText stores a new TEXT artifact. The server assigns id and createdAt;
// no tags are attached at creation.
func (s *Service) CreateText(ctx context.Context, ownerID string, spec TextSpec) (Artifact, error) {
	if err := spec.Validate(); err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		OwnerID:     ownerID,
		Title:       spec.Title,
		Kind:        KindText,
		TextContent: spec.TextContent,
	}
	return s.create(ctx, artifact)
}

// CreateFile stores a new FILE artifact from already-uploaded blob metadata.
func (s *Service) CreateFile(ctx context.Context, ownerID string, spec FileSpec) (Artifact, error) {
	if err := spec.Validate(); err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		OwnerID:  ownerID,
		Title:    spec.Title,
		Kind:     KindFile,
		FileName: spec.FileName,
		FileURL:  spec.FileURL,
		FileSize: spec.FileSize,
		IsImage:  spec.IsImage,
	}
	return s.create(ctx, artifact)
}

func (s *Service) create(ctx context.Context, artifact Artifact) (Artifact, error) {
	if artifact.OwnerID == "" {
		return Artifact{}, newServiceError(opCreate, "missing_owner_id", errMissingOwnerID)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Artifact{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	artifact.ID = id
	artifact.CreatedAtMs = s.clock().UTC().UnixMilli()
	artifact.Tags = []tags.Tag{}

	if err := s.db.WithContext(ctx).Omit("Tags").Create(&artifact).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", artifact.OwnerID))
		return Artifact{}, newServiceError(opCreate, "insert_failed", err)
	}
	return artifact, nil
}

// Delete removes the artifact and its tag associations, then sweeps every
// formerly attached tag, all in one transaction so the zero-member check
// observes the deletion. The blob behind a FILE artifact is disposed of after
// commit; a blob failure is logged but not surfaced since the record is gone.
func (s *Service) Delete(ctx context.Context, ownerID, artifactID string) (Artifact, error) {
	if ownerID == "" {
		return Artifact{}, newServiceError(opDelete, "missing_owner_id", errMissingOwnerID)
	}

	var deleted Artifact
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Tags").Where("owner_id = ? AND id = ?", ownerID, artifactID).Take(&deleted).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
			}
			return newServiceError(opDelete, "select_failed", err)
		}
		if err := tx.Exec("DELETE FROM "+joinTableName+" WHERE artifact_id = ?", artifactID).Error; err != nil {
			return newServiceError(opDelete, "association_delete_failed", err)
		}
		if err := tx.Where("id = ?", artifactID).Delete(&Artifact{}).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		for _, tag := range deleted.Tags {
			if err := s.tagStore.SweepIfOrphanTx(tx, tag.ID); err != nil {
				return newServiceError(opDelete, "orphan_sweep_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrArtifactNotFound) {
			s.logError(opDelete, "transaction_failed", txErr,
				zap.String("owner_id", ownerID),
				zap.String("artifact_id", artifactID))
		}
		return Artifact{}, txErr
	}

	if deleted.Kind == KindFile && s.blobs != nil {
		if err := s.blobs.Delete(ctx, ownerID, deleted.FileName); err != nil {
			s.logger.Warn("blob disposal failed after artifact delete",
				zap.String("operation", opDelete),
				zap.String("owner_id", ownerID),
				zap.String("artifact_id", artifactID),
				zap.String("file_name", deleted.FileName),
				zap.Error(err))
		}
	}
	return deleted, nil
}

// UpdateText replaces the title unconditionally and the text content only
// when a non-empty value is supplied. An empty value leaves prior content in
// place; this is a partial-update contract, not clear-on-empty.
func (s *Service) UpdateText(ctx context.Context, ownerID, artifactID, title, textContent string) (Artifact, error) {
	if ownerID == "" {
		return Artifact{}, newServiceError(opUpdateText, "missing_owner_id", errMissingOwnerID)
	}
	if err := validateTitle(title); err != nil {
		return Artifact{}, err
	}

	var updated Artifact
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, artifactID).Take(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
			}
			return newServiceError(opUpdateText, "select_failed", err)
		}
		fields := map[string]interface{}{"title": title}
		if textContent != "" {
			fields["text_content"] = textContent
		}
		if err := tx.Model(&Artifact{}).Where("id = ?", artifactID).Updates(fields).Error; err != nil {
			return newServiceError(opUpdateText, "update_failed", err)
		}
		return tx.Preload("Tags").Where("id = ?", artifactID).Take(&updated).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrArtifactNotFound) {
			s.logError(opUpdateText, "transaction_failed", txErr,
				zap.String("owner_id", ownerID),
				zap.String("artifact_id", artifactID))
		}
		return Artifact{}, txErr
	}
	return updated, nil
}

// AttachTag resolves the tag by (owner, name), creating it when first seen,
// and adds the relation. No sweep runs here; attaching never orphans anything.
func (s *Service) AttachTag(ctx context.Context, ownerID, artifactID string, tagName tags.TagName) (Artifact, tags.Tag, error) {
	if ownerID == "" {
		return Artifact{}, tags.Tag{}, newServiceError(opAttachTag, "missing_owner_id", errMissingOwnerID)
	}

	var (
		updated Artifact
		tag     tags.Tag
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, artifactID).Take(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
			}
			return newServiceError(opAttachTag, "select_failed", err)
		}
		var err error
		tag, err = s.tagStore.GetOrCreateTx(tx, ownerID, tagName)
		if err != nil {
			return newServiceError(opAttachTag, "tag_resolve_failed", err)
		}
		var linked int64
		if err := tx.Table(joinTableName).
			Where("artifact_id = ? AND tag_id = ?", artifactID, tag.ID).
			Count(&linked).Error; err != nil {
			return newServiceError(opAttachTag, "association_check_failed", err)
		}
		if linked == 0 {
			if err := tx.Exec("INSERT INTO "+joinTableName+" (artifact_id, tag_id) VALUES (?, ?)", artifactID, tag.ID).Error; err != nil {
				return newServiceError(opAttachTag, "association_insert_failed", err)
			}
		}
		return tx.Preload("Tags").Where("id = ?", artifactID).Take(&updated).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrArtifactNotFound) {
			s.logError(opAttachTag, "transaction_failed", txErr,
				zap.String("owner_id", ownerID),
				zap.String("artifact_id", artifactID))
		}
		return Artifact{}, tags.Tag{}, txErr
	}
	return updated, tag, nil
}

// DetachTag removes the relation and sweeps the tag inside the same unit of
// work, so a tag losing its last attachment is deleted before commit.
func (s *Service) DetachTag(ctx context.Context, ownerID, artifactID, tagID string) (Artifact, error) {
	if ownerID == "" {
		return Artifact{}, newServiceError(opDetachTag, "missing_owner_id", errMissingOwnerID)
	}

	var updated Artifact
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, artifactID).Take(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
			}
			return newServiceError(opDetachTag, "select_failed", err)
		}
		// The tag must belong to the caller; a foreign or missing id
		// answers not-found without revealing which.
		var detachedTag tags.Tag
		if err := tx.Where("owner_id = ? AND id = ?", ownerID, tagID).Take(&detachedTag).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", tags.ErrTagNotFound, tagID)
			}
			return newServiceError(opDetachTag, "tag_select_failed", err)
		}
		removal := tx.Exec("DELETE FROM "+joinTableName+" WHERE artifact_id = ? AND tag_id = ?", artifactID, tagID)
		if removal.Error != nil {
			return newServiceError(opDetachTag, "association_delete_failed", removal.Error)
		}
		// Only a detach that removed a relation can orphan the tag;
		// never-attached tags stay exempt from sweeping.
		if removal.RowsAffected > 0 {
			if err := s.tagStore.SweepIfOrphanTx(tx, tagID); err != nil {
				return newServiceError(opDetachTag, "orphan_sweep_failed", err)
			}
		}
		return tx.Preload("Tags").Where("id = ?", artifactID).Take(&updated).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrArtifactNotFound) && !errors.Is(txErr, tags.ErrTagNotFound) {
			s.logError(opDetachTag, "transaction_failed", txErr,
				zap.String("owner_id", ownerID),
				zap.String("artifact_id", artifactID))
		}
		return Artifact{}, txErr
	}
	return updated, nil
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
	s.logger.Error("artifact store error", attrs...)
}
