package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/blob"
	"github.com/tagvault/tagvault/internal/tags"
	"go.uber.org/zap"
)

const ownerIDContextKey = "tagvault_owner_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingArtifactStore  = errors.New("artifact store dependency required")
	errMissingTagStore       = errors.New("tag store dependency required")
	errMissingBlobProvider   = errors.New("blob provider dependency required")
)

// TokenValidator verifies a bearer token and returns the verified subject.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// OwnerResolver maps a verified subject to the canonical owner id.
type OwnerResolver interface {
	Resolve(subject string) (string, error)
}

// Dependencies wires the HTTP surface to the stores and collaborators.
type Dependencies struct {
	TokenValidator TokenValidator
	Owners         OwnerResolver
	ArtifactStore  *artifacts.Service
	TagStore       *tags.Service
	Blobs          blob.Provider
	LocalBlobs     *blob.LocalProvider
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router for the artifact and tag API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.ArtifactStore == nil {
		return nil, errMissingArtifactStore
	}
	if deps.TagStore == nil {
		return nil, errMissingTagStore
	}
	if deps.Blobs == nil {
		return nil, errMissingBlobProvider
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenValidator,
		owners:     deps.Owners,
		artifacts:  deps.ArtifactStore,
		tags:       deps.TagStore,
		blobs:      deps.Blobs,
		localBlobs: deps.LocalBlobs,
		logger:     logger,
	}

	if handler.localBlobs != nil {
		// Blob routes authenticate through the URL signature, not the
		// bearer token, mirroring how presigned cloud URLs behave.
		router.PUT("/blobs/:owner/:file", handler.handleBlobUpload)
		router.GET("/blobs/:owner/:file", handler.handleBlobDownload)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/artifacts", handler.handleListArtifacts)
	protected.POST("/artifacts", handler.handleCreateArtifact)
	protected.DELETE("/artifacts/:artifactId", handler.handleDeleteArtifact)
	protected.POST("/artifacts/:artifactId/tags", handler.handleAttachTag)
	protected.DELETE("/artifacts/:artifactId/tags/:tagId", handler.handleDetachTag)
	protected.PATCH("/artifacts/text/:artifactId", handler.handleUpdateText)
	protected.POST("/tags", handler.handleCreateTag)
	protected.DELETE("/tags/:tagId", handler.handleDeleteTag)
	protected.GET("/tags", handler.handleListTags)
	protected.GET("/uploads/url", handler.handleUploadURL)

	return router, nil
}

type httpHandler struct {
	tokens     TokenValidator
	owners     OwnerResolver
	artifacts  *artifacts.Service
	tags       *tags.Service
	blobs      blob.Provider
	localBlobs *blob.LocalProvider
	logger     *zap.Logger
}

// authorizeRequest validates the bearer token and injects the canonical
// owner id. Every store call downstream is scoped by that id alone; the
// request never names an owner explicitly.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		abortError(c, http.StatusUnauthorized, "Authorization header missing or invalid.")
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		abortError(c, http.StatusUnauthorized, "Authorization header missing or invalid.")
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		abortError(c, http.StatusUnauthorized, "Unauthorized.")
		return
	}

	ownerID := subject
	if h.owners != nil {
		ownerID, err = h.owners.Resolve(subject)
		if err != nil {
			h.logger.Error("owner resolution failed", zap.Error(err))
			abortError(c, http.StatusUnauthorized, "Unauthorized.")
			return
		}
	}
	c.Set(ownerIDContextKey, ownerID)
	c.Next()
}

func (h *httpHandler) ownerID(c *gin.Context) (string, bool) {
	ownerID := c.GetString(ownerIDContextKey)
	if ownerID == "" {
		respondError(c, http.StatusUnauthorized, "Unauthorized.")
		return "", false
	}
	return ownerID, true
}
