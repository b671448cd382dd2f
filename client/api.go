// Package client implements the synchronizing cache that sits between a user
// interface and the artifact API: a thin HTTP client, a cached bearer-token
// source, and optimistic collection stores for artifacts and tags.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Classified request failures. The collection stores only need the class to
// decide between rollback paths; the wrapped message carries server detail.
var (
	ErrUnauthorized = errors.New("client: unauthorized")
	ErrNotFound     = errors.New("client: not found")
	ErrConflict     = errors.New("client: conflict")
	ErrBadRequest   = errors.New("client: bad request")
	ErrServer       = errors.New("client: server error")

	errMissingBaseURL = errors.New("client: base URL is required")
	errMissingTokens  = errors.New("client: token source is required")
)

// Tag is the wire shape of a tag attached to an artifact.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artifact is the wire shape of an artifact with its attached tags.
type Artifact struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	FileType    string `json:"fileType"`
	TextContent string `json:"textContent,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	IsImage     bool   `json:"isImage"`
	CreatedAt   int64  `json:"createdAt"`
	Tags        []Tag  `json:"tags"`
}

// TagWithMembership is a tag plus the ids of the artifacts it is attached to.
type TagWithMembership struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ArtifactIDs []string `json:"artifactIds"`
}

// ArtifactPage is one page of a cursor-paginated listing.
type ArtifactPage struct {
	Artifacts  []Artifact `json:"artifacts"`
	NextCursor *string    `json:"nextCursor"`
	HasMore    bool       `json:"hasMoreArtifacts"`
}

// AttachResult pairs the updated artifact with the tag that was attached,
// which may have been created by the call.
type AttachResult struct {
	Artifact Artifact `json:"artifact"`
	AddedTag Tag      `json:"addedTag"`
}

// UploadGrant carries a time-limited upload URL and its download counterpart.
type UploadGrant struct {
	URL         string `json:"url"`
	DownloadURL string `json:"url_sas"`
	Credential  string `json:"sas"`
}

// ListQuery describes one artifact page request.
type ListQuery struct {
	Search string
	TagIDs []string
	Limit  int
	Cursor string
}

// CreateFileRequest describes a FILE artifact to create. The blob itself is
// uploaded separately through an UploadGrant before this call.
type CreateFileRequest struct {
	Title    string
	FileName string
	FileURL  string
	FileSize int64
	IsImage  bool
}

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIConfig configures the HTTP client for the artifact API.
type APIConfig struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
}

// API is a thin typed client over the artifact and tag endpoints. It decodes
// the response envelope and classifies failures; it holds no collection state.
type API struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewAPI constructs the API client.
func NewAPI(cfg APIConfig) (*API, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
	}, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, requestBody any, out any) error {
	var bodyReader *bytes.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	requestURL := a.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("client: acquire token: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := a.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer response.Body.Close()

	var env envelope
	if err := json.NewDecoder(response.Body).Decode(&env); err != nil {
		if response.StatusCode >= 400 {
			return classifyStatus(response.StatusCode, "")
		}
		return fmt.Errorf("client: decode response: %w", err)
	}

	if response.StatusCode >= 400 || env.Status != "success" {
		return classifyStatus(response.StatusCode, env.Message)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("client: decode payload: %w", err)
		}
	}
	return nil
}

func classifyStatus(statusCode int, message string) error {
	var class error
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		class = ErrUnauthorized
	case statusCode == http.StatusNotFound:
		class = ErrNotFound
	case statusCode == http.StatusConflict:
		class = ErrConflict
	case statusCode >= 400 && statusCode < 500:
		class = ErrBadRequest
	default:
		class = ErrServer
	}
	if message == "" {
		return class
	}
	return fmt.Errorf("%w: %s", class, message)
}

// ListArtifacts fetches one page of the owner's artifacts.
func (a *API) ListArtifacts(ctx context.Context, listQuery ListQuery) (ArtifactPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(listQuery.Limit))
	if listQuery.Search != "" {
		query.Set("searchValue", listQuery.Search)
	}
	for _, tagID := range listQuery.TagIDs {
		query.Add("tags", tagID)
	}
	if listQuery.Cursor != "" {
		query.Set("cursor", listQuery.Cursor)
	}

	var page ArtifactPage
	if err := a.do(ctx, http.MethodGet, "/artifacts", query, nil, &page); err != nil {
		return ArtifactPage{}, err
	}
	if page.Artifacts == nil {
		page.Artifacts = []Artifact{}
	}
	return page, nil
}

type createArtifactBody struct {
	FileType    string `json:"fileType"`
	Title       string `json:"title"`
	TextContent string `json:"textContent,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	IsImage     bool   `json:"isImage"`
}

// CreateTextArtifact creates a TEXT artifact.
func (a *API) CreateTextArtifact(ctx context.Context, title, textContent string) (Artifact, error) {
	var created Artifact
	body := createArtifactBody{FileType: "TEXT", Title: title, TextContent: textContent}
	if err := a.do(ctx, http.MethodPost, "/artifacts", nil, body, &created); err != nil {
		return Artifact{}, err
	}
	return created, nil
}

// CreateFileArtifact creates a FILE artifact referencing an uploaded blob.
func (a *API) CreateFileArtifact(ctx context.Context, request CreateFileRequest) (Artifact, error) {
	var created Artifact
	body := createArtifactBody{
		FileType: "FILE",
		Title:    request.Title,
		FileName: request.FileName,
		FileURL:  request.FileURL,
		FileSize: request.FileSize,
		IsImage:  request.IsImage,
	}
	if err := a.do(ctx, http.MethodPost, "/artifacts", nil, body, &created); err != nil {
		return Artifact{}, err
	}
	return created, nil
}

// DeleteArtifact deletes an artifact and returns its final state.
func (a *API) DeleteArtifact(ctx context.Context, artifactID string) (Artifact, error) {
	var deleted Artifact
	if err := a.do(ctx, http.MethodDelete, "/artifacts/"+url.PathEscape(artifactID), nil, nil, &deleted); err != nil {
		return Artifact{}, err
	}
	return deleted, nil
}

// UpdateText updates a TEXT artifact's title, and its content when one is supplied.
func (a *API) UpdateText(ctx context.Context, artifactID, title, textContent string) (Artifact, error) {
	var updated Artifact
	body := map[string]string{"title": title, "textContent": textContent}
	if err := a.do(ctx, http.MethodPatch, "/artifacts/text/"+url.PathEscape(artifactID), nil, body, &updated); err != nil {
		return Artifact{}, err
	}
	return updated, nil
}

// AttachTag attaches a tag by name, creating the tag when it does not exist.
func (a *API) AttachTag(ctx context.Context, artifactID, tagName string) (AttachResult, error) {
	var result AttachResult
	body := map[string]string{"tagName": tagName}
	if err := a.do(ctx, http.MethodPost, "/artifacts/"+url.PathEscape(artifactID)+"/tags", nil, body, &result); err != nil {
		return AttachResult{}, err
	}
	return result, nil
}

// DetachTag removes one tag from an artifact.
func (a *API) DetachTag(ctx context.Context, artifactID, tagID string) (Artifact, error) {
	var updated Artifact
	path := "/artifacts/" + url.PathEscape(artifactID) + "/tags/" + url.PathEscape(tagID)
	if err := a.do(ctx, http.MethodDelete, path, nil, nil, &updated); err != nil {
		return Artifact{}, err
	}
	return updated, nil
}

// CreateTag creates a stand-alone tag.
func (a *API) CreateTag(ctx context.Context, tagName string) (Tag, error) {
	var created Tag
	body := map[string]string{"tagName": tagName}
	if err := a.do(ctx, http.MethodPost, "/tags", nil, body, &created); err != nil {
		return Tag{}, err
	}
	return created, nil
}

// DeleteTag deletes a tag and all of its artifact associations.
func (a *API) DeleteTag(ctx context.Context, tagID string) (Tag, error) {
	var deleted Tag
	if err := a.do(ctx, http.MethodDelete, "/tags/"+url.PathEscape(tagID), nil, nil, &deleted); err != nil {
		return Tag{}, err
	}
	return deleted, nil
}

// ListTags fetches every tag for the owner with its artifact membership.
func (a *API) ListTags(ctx context.Context) ([]TagWithMembership, error) {
	var response struct {
		Tags []TagWithMembership `json:"tags"`
	}
	if err := a.do(ctx, http.MethodGet, "/tags", nil, nil, &response); err != nil {
		return nil, err
	}
	if response.Tags == nil {
		response.Tags = []TagWithMembership{}
	}
	return response.Tags, nil
}

// UploadURL requests a time-limited upload grant for a file name.
func (a *API) UploadURL(ctx context.Context, filename string) (UploadGrant, error) {
	query := url.Values{}
	query.Set("filename", filename)
	var grant UploadGrant
	if err := a.do(ctx, http.MethodGet, "/uploads/url", query, nil, &grant); err != nil {
		return UploadGrant{}, err
	}
	return grant, nil
}
