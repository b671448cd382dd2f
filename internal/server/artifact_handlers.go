package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/tags"
	"go.uber.org/zap"
)

type tagPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type artifactPayload struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	FileType    string       `json:"fileType"`
	TextContent string       `json:"textContent,omitempty"`
	FileName    string       `json:"fileName,omitempty"`
	FileURL     string       `json:"fileUrl,omitempty"`
	FileSize    int64        `json:"fileSize,omitempty"`
	IsImage     bool         `json:"isImage"`
	CreatedAt   int64        `json:"createdAt"`
	Tags        []tagPayload `json:"tags"`
}

func toTagPayload(tag tags.Tag) tagPayload {
	return tagPayload{ID: tag.ID, Name: tag.Name}
}

func toArtifactPayload(artifact artifacts.Artifact) artifactPayload {
	attached := make([]tagPayload, 0, len(artifact.Tags))
	for _, tag := range artifact.Tags {
		attached = append(attached, toTagPayload(tag))
	}
	return artifactPayload{
		ID:          artifact.ID,
		Title:       artifact.Title,
		FileType:    string(artifact.Kind),
		TextContent: artifact.TextContent,
		FileName:    artifact.FileName,
		FileURL:     artifact.FileURL,
		FileSize:    artifact.FileSize,
		IsImage:     artifact.IsImage,
		CreatedAt:   artifact.CreatedAtMs,
		Tags:        attached,
	}
}

type listArtifactsResponse struct {
	Artifacts  []artifactPayload `json:"artifacts"`
	NextCursor *string           `json:"nextCursor"`
	HasMore    bool              `json:"hasMoreArtifacts"`
}

func (h *httpHandler) handleListArtifacts(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	rawLimit := c.Query("limit")
	if rawLimit == "" {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	limit, err := strconv.Atoi(rawLimit)
	if err != nil || limit < 1 {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}

	page, err := h.artifacts.Query(c.Request.Context(), artifacts.Query{
		OwnerID:    ownerID,
		SearchText: c.Query("searchValue"),
		TagIDs:     c.QueryArray("tags"),
		Limit:      limit,
		Cursor:     c.Query("cursor"),
	})
	if err != nil {
		h.logger.Error("artifact query failed", zap.Error(err))
		respondStoreError(c, err)
		return
	}

	response := listArtifactsResponse{
		Artifacts: make([]artifactPayload, 0, len(page.Artifacts)),
		HasMore:   page.HasMore,
	}
	for _, artifact := range page.Artifacts {
		response.Artifacts = append(response.Artifacts, toArtifactPayload(artifact))
	}
	if page.NextCursor != "" {
		cursor := page.NextCursor
		response.NextCursor = &cursor
	}
	respondSuccess(c, http.StatusOK, response)
}

type createArtifactRequest struct {
	FileType    string `json:"fileType" binding:"required,oneof=TEXT FILE"`
	Title       string `json:"title"`
	TextContent string `json:"textContent"`
	FileName    string `json:"fileName"`
	FileURL     string `json:"fileUrl"`
	FileSize    int64  `json:"fileSize"`
	IsImage     bool   `json:"isImage"`
}

func (h *httpHandler) handleCreateArtifact(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var request createArtifactRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}

	var (
		created artifacts.Artifact
		err     error
	)
	switch artifacts.Kind(request.FileType) {
	case artifacts.KindText:
		created, err = h.artifacts.CreateText(c.Request.Context(), ownerID, artifacts.TextSpec{
			Title:       request.Title,
			TextContent: request.TextContent,
		})
	case artifacts.KindFile:
		created, err = h.artifacts.CreateFile(c.Request.Context(), ownerID, artifacts.FileSpec{
			Title:    request.Title,
			FileName: request.FileName,
			FileURL:  request.FileURL,
			FileSize: request.FileSize,
			IsImage:  request.IsImage,
		})
	default:
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, toArtifactPayload(created))
}

func (h *httpHandler) handleDeleteArtifact(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	deleted, err := h.artifacts.Delete(c.Request.Context(), ownerID, c.Param("artifactId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, toArtifactPayload(deleted))
}

type attachTagRequest struct {
	TagName string `json:"tagName" binding:"required"`
}

type attachTagResponse struct {
	Artifact artifactPayload `json:"artifact"`
	AddedTag tagPayload      `json:"addedTag"`
}

func (h *httpHandler) handleAttachTag(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var request attachTagRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	tagName, err := tags.NewTagName(request.TagName)
	if err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}

	artifact, addedTag, err := h.artifacts.AttachTag(c.Request.Context(), ownerID, c.Param("artifactId"), tagName)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, attachTagResponse{
		Artifact: toArtifactPayload(artifact),
		AddedTag: toTagPayload(addedTag),
	})
}

func (h *httpHandler) handleDetachTag(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	artifact, err := h.artifacts.DetachTag(c.Request.Context(), ownerID, c.Param("artifactId"), c.Param("tagId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, toArtifactPayload(artifact))
}

type updateTextRequest struct {
	Title       string `json:"title"`
	TextContent string `json:"textContent"`
}

func (h *httpHandler) handleUpdateText(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var request updateTextRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}

	updated, err := h.artifacts.UpdateText(c.Request.Context(), ownerID, c.Param("artifactId"), request.Title, request.TextContent)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, toArtifactPayload(updated))
}
