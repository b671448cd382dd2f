package artifacts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tagvault/tagvault/internal/tags"
)

// Kind discriminates the two artifact variants. It is immutable after create.
type Kind string

const (
	// KindText marks a free-text artifact.
	KindText Kind = "TEXT"
	// KindFile marks an artifact backed by an uploaded blob.
	KindFile Kind = "FILE"
)

const maxTitleLength = 255

var (
	// ErrArtifactNotFound indicates the artifact is absent or owned by someone else.
	ErrArtifactNotFound = errors.New("artifacts: artifact not found")
	// ErrInvalidTitle indicates a title exceeding storage bounds.
	ErrInvalidTitle = errors.New("artifacts: invalid title")
	// ErrMissingTextContent indicates a TEXT variant without content.
	ErrMissingTextContent = errors.New("artifacts: missing text content")
	// ErrInvalidFileSpec indicates a FILE variant with incomplete file metadata.
	ErrInvalidFileSpec = errors.New("artifacts: invalid file spec")
	// ErrInvalidLimit indicates a page size below one.
	ErrInvalidLimit = errors.New("artifacts: limit must be at least 1")
)

// Artifact models a stored text snippet or file reference owned by one user.
// created_at_ms carries the ordering axis; ties are broken by id.
type Artifact struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID     string     `gorm:"column:owner_id;size:190;not null;index:idx_artifacts_owner_created,priority:1"`
	Title       string     `gorm:"column:title;size:255"`
	Kind        Kind       `gorm:"column:kind;size:8;not null"`
	TextContent string     `gorm:"column:text_content;type:text"`
	FileName    string     `gorm:"column:file_name;size:512"`
	FileURL     string     `gorm:"column:file_url;size:1024"`
	FileSize    int64      `gorm:"column:file_size"`
	IsImage     bool       `gorm:"column:is_image;not null;default:false"`
	CreatedAtMs int64      `gorm:"column:created_at_ms;not null;index:idx_artifacts_owner_created,priority:2"`
	Tags        []tags.Tag `gorm:"many2many:artifact_tags;"`
}

// TableName provides the explicit table binding for GORM.
func (Artifact) TableName() string {
	return "artifacts"
}

// TextSpec is the TEXT creation variant.
type TextSpec struct {
	Title       string
	TextContent string
}

// Validate enforces the TEXT variant rules.
func (s TextSpec) Validate() error {
	if err := validateTitle(s.Title); err != nil {
		return err
	}
	if strings.TrimSpace(s.TextContent) == "" {
		return ErrMissingTextContent
	}
	return nil
}

// FileSpec is the FILE creation variant. The blob itself is uploaded out of
// band through a presigned URL; only its metadata lands here.
type FileSpec struct {
	Title    string
	FileName string
	FileURL  string
	FileSize int64
	IsImage  bool
}

// Validate enforces the FILE variant rules.
func (s FileSpec) Validate() error {
	if err := validateTitle(s.Title); err != nil {
		return err
	}
	if strings.TrimSpace(s.FileName) == "" {
		return fmt.Errorf("%w: file name required", ErrInvalidFileSpec)
	}
	if strings.TrimSpace(s.FileURL) == "" {
		return fmt.Errorf("%w: file url required", ErrInvalidFileSpec)
	}
	if s.FileSize <= 0 {
		return fmt.Errorf("%w: file size must be positive", ErrInvalidFileSpec)
	}
	return nil
}

func validateTitle(title string) error {
	if len(title) > maxTitleLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, maxTitleLength)
	}
	return nil
}
