package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tagvault/tagvault/internal/tags"
)

type tagWithMembershipPayload struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ArtifactIDs []string `json:"artifactIds"`
}

type listTagsResponse struct {
	Tags []tagWithMembershipPayload `json:"tags"`
}

type createTagRequest struct {
	TagName string `json:"tagName" binding:"required"`
}

func (h *httpHandler) handleCreateTag(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var request createTagRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	tagName, err := tags.NewTagName(request.TagName)
	if err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}

	created, err := h.tags.Create(c.Request.Context(), ownerID, tagName)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, toTagPayload(created))
}

func (h *httpHandler) handleDeleteTag(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	deleted, err := h.tags.Delete(c.Request.Context(), ownerID, c.Param("tagId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, toTagPayload(deleted))
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	memberships, err := h.tags.List(c.Request.Context(), ownerID)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	response := listTagsResponse{Tags: make([]tagWithMembershipPayload, 0, len(memberships))}
	for _, membership := range memberships {
		artifactIDs := membership.ArtifactIDs
		if artifactIDs == nil {
			artifactIDs = []string{}
		}
		response.Tags = append(response.Tags, tagWithMembershipPayload{
			ID:          membership.Tag.ID,
			Name:        membership.Tag.Name,
			ArtifactIDs: artifactIDs,
		})
	}
	respondSuccess(c, http.StatusOK, response)
}
