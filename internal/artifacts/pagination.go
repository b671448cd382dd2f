package artifacts

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Query describes one page request over the owner's filtered collection.
type Query struct {
	OwnerID    string
	SearchText string
	TagIDs     []string
	Limit      int
	Cursor     string
}

// Page is a stable slice of the collection plus its continuation state.
// NextCursor is the id of the last artifact returned, empty for an empty page.
type Page struct {
	Artifacts  []Artifact
	NextCursor string
	HasMore    bool
}

// Query returns one page of the owner's artifacts ordered by created_at_ms
// descending with an id-descending tiebreak. Without the tiebreak two rows
// sharing a timestamp could be skipped or repeated across pages.
func (s *Service) Query(ctx context.Context, request Query) (Page, error) {
	if request.OwnerID == "" {
		return Page{}, newServiceError(opQuery, "missing_owner_id", errMissingOwnerID)
	}
	if request.Limit < 1 {
		return Page{}, ErrInvalidLimit
	}

	db := s.db.WithContext(ctx).
		Model(&Artifact{}).
		Where("owner_id = ?", request.OwnerID)

	if search := strings.TrimSpace(request.SearchText); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		db = db.Where(
			`(LOWER(title) LIKE ? ESCAPE '\'
			OR LOWER(text_content) LIKE ? ESCAPE '\'
			OR LOWER(file_name) LIKE ? ESCAPE '\'
			OR EXISTS (
				SELECT 1 FROM artifact_tags
				JOIN tags ON tags.id = artifact_tags.tag_id
				WHERE artifact_tags.artifact_id = artifacts.id
				AND LOWER(tags.name) LIKE ? ESCAPE '\'))`,
			pattern, pattern, pattern, pattern)
	}

	for _, tagID := range request.TagIDs {
		if tagID == "" {
			continue
		}
		db = db.Where(
			"EXISTS (SELECT 1 FROM artifact_tags WHERE artifact_tags.artifact_id = artifacts.id AND artifact_tags.tag_id = ?)",
			tagID)
	}

	if request.Cursor != "" {
		var anchor Artifact
		err := s.db.WithContext(ctx).
			Where("owner_id = ? AND id = ?", request.OwnerID, request.Cursor).
			Take(&anchor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The anchor row was deleted underneath the client, e.g. from
			// another device. Ending the scroll is the graceful outcome.
			return Page{Artifacts: []Artifact{}}, nil
		}
		if err != nil {
			s.logError(opQuery, "cursor_lookup_failed", err, zap.String("owner_id", request.OwnerID))
			return Page{}, newServiceError(opQuery, "cursor_lookup_failed", err)
		}
		db = db.Where(
			"(created_at_ms < ? OR (created_at_ms = ? AND id < ?))",
			anchor.CreatedAtMs, anchor.CreatedAtMs, anchor.ID)
	}

	var rows []Artifact
	if err := db.
		Order("created_at_ms DESC, id DESC").
		Limit(request.Limit + 1).
		Preload("Tags").
		Find(&rows).Error; err != nil {
		s.logError(opQuery, "query_failed", err, zap.String("owner_id", request.OwnerID))
		return Page{}, newServiceError(opQuery, "query_failed", err)
	}

	page := Page{Artifacts: rows, HasMore: len(rows) > request.Limit}
	if page.HasMore {
		page.Artifacts = page.Artifacts[:request.Limit]
	}
	if len(page.Artifacts) > 0 {
		page.NextCursor = page.Artifacts[len(page.Artifacts)-1].ID
	}
	return page, nil
}

// escapeLike neutralizes LIKE wildcards in user-supplied search text.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
