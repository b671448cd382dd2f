package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/blob"
	"github.com/tagvault/tagvault/internal/tags"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	messageInvalidRequest = "Invalid request."
	messageNotFound       = "Resource not found."
	messageConflict       = "A resource with that name already exists."
	messageUnexpected     = "An unexpected error occurred. Please try again later."
)

// envelope is the uniform response body: status plus either data or message.
type envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondSuccess(c *gin.Context, httpStatus int, data interface{}) {
	c.JSON(httpStatus, envelope{Status: statusSuccess, Data: data})
}

func respondError(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, envelope{Status: statusError, Message: message})
}

func abortError(c *gin.Context, httpStatus int, message string) {
	c.AbortWithStatusJSON(httpStatus, envelope{Status: statusError, Message: message})
}

// respondStoreError maps store failures onto the error taxonomy. Ownership
// mismatches surface as not-found, and internal detail is never leaked.
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, artifacts.ErrArtifactNotFound), errors.Is(err, tags.ErrTagNotFound):
		respondError(c, http.StatusNotFound, messageNotFound)
	case errors.Is(err, tags.ErrTagNameTaken):
		respondError(c, http.StatusConflict, messageConflict)
	case errors.Is(err, artifacts.ErrInvalidTitle),
		errors.Is(err, artifacts.ErrMissingTextContent),
		errors.Is(err, artifacts.ErrInvalidFileSpec),
		errors.Is(err, artifacts.ErrInvalidLimit),
		errors.Is(err, tags.ErrInvalidTagName),
		errors.Is(err, blob.ErrInvalidObjectName):
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
	default:
		respondError(c, http.StatusInternalServerError, messageUnexpected)
	}
}
