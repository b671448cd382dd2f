package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticTokenSource struct {
	token string
}

func (s staticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) (*API, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	api, err := NewAPI(APIConfig{
		BaseURL: server.URL,
		Tokens:  staticTokenSource{token: "bearer-token"},
	})
	if err != nil {
		t.Fatalf("failed to build api: %v", err)
	}
	return api, server
}

func writeEnvelope(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(body))
}

func TestListArtifactsEncodesQueryAndToken(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer bearer-token" {
			t.Fatalf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/artifacts" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("searchValue") != "report" || query.Get("cursor") != "artifact-9" {
			t.Fatalf("unexpected query %v", query)
		}
		if tagIDs := query["tags"]; len(tagIDs) != 2 || tagIDs[0] != "tag-1" || tagIDs[1] != "tag-2" {
			t.Fatalf("unexpected tag filter %v", query["tags"])
		}
		writeEnvelope(w, http.StatusOK, `{"status":"success","data":{"artifacts":[{"id":"artifact-1","title":"T","fileType":"TEXT","tags":[]}],"nextCursor":"artifact-1","hasMoreArtifacts":true}}`)
	})

	page, err := api.ListArtifacts(context.Background(), ListQuery{
		Search: "report",
		TagIDs: []string{"tag-1", "tag-2"},
		Limit:  5,
		Cursor: "artifact-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Artifacts) != 1 || page.Artifacts[0].ID != "artifact-1" {
		t.Fatalf("unexpected page %#v", page)
	}
	if page.NextCursor == nil || *page.NextCursor != "artifact-1" || !page.HasMore {
		t.Fatalf("unexpected pagination fields %#v", page)
	}
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		expected   error
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized, expected: ErrUnauthorized},
		{name: "forbidden maps to unauthorized", statusCode: http.StatusForbidden, expected: ErrUnauthorized},
		{name: "not found", statusCode: http.StatusNotFound, expected: ErrNotFound},
		{name: "conflict", statusCode: http.StatusConflict, expected: ErrConflict},
		{name: "bad request", statusCode: http.StatusBadRequest, expected: ErrBadRequest},
		{name: "server error", statusCode: http.StatusInternalServerError, expected: ErrServer},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, testCase.statusCode, `{"status":"error","message":"detail from server"}`)
			})
			_, err := api.ListTags(context.Background())
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestErrorCarriesServerMessage(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, `{"status":"error","message":"A resource with that name already exists."}`)
	})
	_, err := api.CreateTag(context.Background(), "work")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err.Error() != "client: conflict: A resource with that name already exists." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCreateTextArtifactSendsBody(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/artifacts" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body["fileType"] != "TEXT" || body["title"] != "Note" || body["textContent"] != "hello" {
			t.Fatalf("unexpected body %v", body)
		}
		writeEnvelope(w, http.StatusCreated, `{"status":"success","data":{"id":"artifact-1","title":"Note","fileType":"TEXT","textContent":"hello","tags":[]}}`)
	})

	created, err := api.CreateTextArtifact(context.Background(), "Note", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "artifact-1" || created.TextContent != "hello" {
		t.Fatalf("unexpected artifact %#v", created)
	}
}

func TestDetachTagEscapesPathSegments(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.URL.EscapedPath() != "/artifacts/artifact%2F1/tags/tag-1" {
			t.Fatalf("unexpected path %q", r.URL.EscapedPath())
		}
		writeEnvelope(w, http.StatusOK, `{"status":"success","data":{"id":"artifact/1","title":"T","fileType":"TEXT","tags":[]}}`)
	})

	if _, err := api.DetachTag(context.Background(), "artifact/1", "tag-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUploadURLDecodesGrant(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/uploads/url" || r.URL.Query().Get("filename") != "photo.png" {
			t.Fatalf("unexpected request %q %v", r.URL.Path, r.URL.Query())
		}
		writeEnvelope(w, http.StatusOK, `{"status":"success","data":{"url":"https://blobs/photo.png","url_sas":"https://blobs/photo.png?sig=a","sas":"sig=a"}}`)
	})

	grant, err := api.UploadURL(context.Background(), "photo.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.URL != "https://blobs/photo.png" || grant.Credential != "sig=a" {
		t.Fatalf("unexpected grant %#v", grant)
	}
}
