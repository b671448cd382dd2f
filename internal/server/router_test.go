package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/auth"
	"github.com/tagvault/tagvault/internal/blob"
	"github.com/tagvault/tagvault/internal/owners"
	"github.com/tagvault/tagvault/internal/tags"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type testEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestHandler(t *testing.T) (http.Handler, *auth.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:tagvault_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&tags.Tag{}, &artifacts.Artifact{}, &owners.Owner{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "tagvault-auth",
		Audience:      "tagvault-api",
		TokenTTL:      time.Hour,
	})

	ownerService, err := owners.NewService(owners.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build owner service: %v", err)
	}

	localBlobs, err := blob.NewLocalProvider(blob.LocalConfig{
		Root:          t.TempDir(),
		BaseURL:       "http://localhost:8080",
		SigningSecret: []byte("test-signing-secret"),
	})
	if err != nil {
		t.Fatalf("failed to build blob provider: %v", err)
	}

	tagService, err := tags.NewService(tags.ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDGenerator{prefix: "tag"},
	})
	if err != nil {
		t.Fatalf("failed to build tag service: %v", err)
	}

	artifactService, err := artifacts.NewService(artifacts.ServiceConfig{
		Database:   db,
		TagStore:   tagService,
		IDProvider: &sequenceIDGenerator{prefix: "artifact"},
		Blobs:      localBlobs,
	})
	if err != nil {
		t.Fatalf("failed to build artifact service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: issuer,
		Owners:         ownerService,
		ArtifactStore:  artifactService,
		TagStore:       tagService,
		Blobs:          localBlobs,
		LocalBlobs:     localBlobs,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, issuer
}

func mustToken(t *testing.T, issuer *auth.TokenIssuer, subject string) string {
	t.Helper()
	token, _, err := issuer.Issue(context.Background(), subject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func performRequest(t *testing.T, handler http.Handler, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, payload)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v (body %q)", err, recorder.Body.String())
	}
	return env
}

func decodeData(t *testing.T, recorder *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	env := decodeEnvelope(t, recorder)
	if env.Status != "success" {
		t.Fatalf("expected success envelope, got %q with message %q", env.Status, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodGet, "/tags", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	env := decodeEnvelope(t, recorder)
	if env.Status != "error" {
		t.Fatalf("expected error envelope, got %q", env.Status)
	}
}

func TestRequestsWithGarbageTokenAreRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodGet, "/tags", "not-a-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestValidTokenReachesHandlers(t *testing.T) {
	handler, issuer := newTestHandler(t)
	token := mustToken(t, issuer, "user-1")

	recorder := performRequest(t, handler, http.MethodGet, "/tags", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %q)", recorder.Code, recorder.Body.String())
	}
}

func TestCORSPreflightAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/artifacts", nil)
	request.Header.Set("Origin", "http://localhost:5173")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected allow-origin header")
	}
}
