package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tagvault/tagvault/internal/blob"
	"go.uber.org/zap"
)

// maxBlobUploadBytes caps uploads handled by the local development provider.
const maxBlobUploadBytes = 64 << 20

type uploadURLResponse struct {
	URL    string `json:"url"`
	URLSAS string `json:"url_sas"`
	SAS    string `json:"sas"`
}

// handleUploadURL issues a time-limited upload URL for the named file. The
// envelope field names follow the storage-token contract clients already use.
func (h *httpHandler) handleUploadURL(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	filename := c.Query("filename")
	if filename == "" {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}

	signed, err := h.blobs.PresignUpload(c.Request.Context(), ownerID, filename)
	if err != nil {
		if errors.Is(err, blob.ErrInvalidObjectName) {
			respondError(c, http.StatusBadRequest, messageInvalidRequest)
			return
		}
		h.logger.Error("upload url issuance failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, messageUnexpected)
		return
	}

	respondSuccess(c, http.StatusOK, uploadURLResponse{
		URL:    signed.URL,
		URLSAS: signed.SignedURL,
		SAS:    signed.Credential,
	})
}

func (h *httpHandler) verifyBlobSignature(c *gin.Context) (owner, file string, ok bool) {
	owner = c.Param("owner")
	file = c.Param("file")
	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil {
		abortError(c, http.StatusForbidden, "Invalid blob signature.")
		return "", "", false
	}
	if err := h.localBlobs.Verify(owner+"/"+file, expires, c.Query("sig")); err != nil {
		abortError(c, http.StatusForbidden, "Invalid blob signature.")
		return "", "", false
	}
	return owner, file, true
}

func (h *httpHandler) handleBlobUpload(c *gin.Context) {
	owner, file, ok := h.verifyBlobSignature(c)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBlobUploadBytes))
	if err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	if err := h.localBlobs.WriteObject(owner, file, data); err != nil {
		h.logger.Error("blob write failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, messageUnexpected)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *httpHandler) handleBlobDownload(c *gin.Context) {
	owner, file, ok := h.verifyBlobSignature(c)
	if !ok {
		return
	}

	path, err := h.localBlobs.ObjectPath(owner, file)
	if err != nil {
		respondError(c, http.StatusBadRequest, messageInvalidRequest)
		return
	}
	c.File(path)
}
