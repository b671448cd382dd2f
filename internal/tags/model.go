package tags

import (
	"errors"
	"fmt"
	"strings"
)

const maxTagNameLength = 190

var (
	// ErrInvalidTagName indicates that a tag name is empty or exceeds storage bounds.
	ErrInvalidTagName = errors.New("tags: invalid tag name")
	// ErrTagNotFound indicates the tag does not exist or belongs to a different owner.
	ErrTagNotFound = errors.New("tags: tag not found")
	// ErrTagNameTaken indicates an explicit create collided with an existing (owner, name) pair.
	ErrTagNameTaken = errors.New("tags: tag name already exists")
)

// TagName represents a validated tag name. Names are case-sensitive and
// deliberately not normalized beyond whitespace trimming.
type TagName string

// NewTagName validates raw input and returns a TagName.
func NewTagName(rawInput string) (TagName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTagName)
	}
	if len(trimmed) > maxTagNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTagName, maxTagNameLength)
	}
	return TagName(trimmed), nil
}

// String returns the underlying name.
func (n TagName) String() string {
	return string(n)
}

// Tag models a persisted owner-scoped label. The (owner_id, name) pair is
// unique; attachment to artifacts lives in the artifact_tags join table.
type Tag struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID     string `gorm:"column:owner_id;size:190;not null;uniqueIndex:idx_tags_owner_name,priority:1"`
	Name        string `gorm:"column:name;size:190;not null;uniqueIndex:idx_tags_owner_name,priority:2"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// Membership pairs a tag with the ids of the artifacts it is attached to.
// Callers use the attachment list to decide orphan status for display.
type Membership struct {
	Tag         Tag
	ArtifactIDs []string
}
