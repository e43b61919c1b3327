package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/richfilter/internal/docservice"
	"github.com/starford/richfilter/internal/testutil"
)

// testEnv sets up a temp vault, SQLite DB, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) http.Handler {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

// testEnvWithSSE builds a router with an optional SSE handler mounted.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) http.Handler {
	t.Helper()
	_, store := testutil.TestVault(t)
	svc := docservice.NewService(store, testutil.TestDB(t), testutil.Pipeline())
	return NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createDoc(t *testing.T, router http.Handler, path, content string) DocumentDetail {
	t.Helper()
	w := do(t, router, http.MethodPost, "/documents", map[string]string{"path": path, "content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var d DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &d)
	return d
}

func TestFilterEndpoint(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/filter", testutil.DirtyDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("filter status = %d, body = %s", w.Code, w.Body.String())
	}
	var res FilterResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Changed || res.Report.Total() != 3 {
		t.Errorf("result = %+v", res)
	}
	if strings.Contains(res.Content, "UNDERLINE") {
		t.Error("sanitized content still carries UNDERLINE")
	}
}

func TestFilterEndpoint_DocumentOutput(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/filter?output=document", testutil.DirtyDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("filter status = %d", w.Code)
	}
	if got := w.Header().Get("X-Filter-Changes"); got != "3" {
		t.Errorf("X-Filter-Changes = %q", got)
	}
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("body is not a document: %v", err)
	}
	if _, ok := raw["blocks"]; !ok {
		t.Error("document output missing blocks")
	}
}

func TestFilterEndpoint_HTMLOutput(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/filter?output=html", testutil.DirtyDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("filter status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if got := w.Header().Get("X-Filter-Changes"); got != "3" {
		t.Errorf("X-Filter-Changes = %q", got)
	}
	if body := w.Body.String(); !strings.Contains(body, "<p>Draft</p>") || strings.Contains(body, "<u>") {
		t.Errorf("html = %s", body)
	}
}

func TestRenderEndpoint(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "posts/hello.json", testutil.CleanDoc)

	w := do(t, router, http.MethodGet, "/render/posts/hello.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("render status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `href="https://example.com/docs"`) {
		t.Errorf("html = %s", w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/render/missing.json", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing render = %d, want 404", w.Code)
	}
}

func TestFilterEndpoint_Invalid(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/filter", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid payload = %d, want 400", w.Code)
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	router := testEnv(t, "")
	created := createDoc(t, router, "posts/hello.json", testutil.DirtyDoc)
	if created.Report == nil || created.Report.Total() != 3 {
		t.Errorf("create report = %+v", created.Report)
	}

	w := do(t, router, http.MethodGet, "/documents/posts/hello.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var doc DocumentDetail
	_ = json.Unmarshal(w.Body.Bytes(), &doc)
	if doc.Path != "posts/hello.json" || doc.Title != "Draft" {
		t.Errorf("doc = %+v", doc)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+created.Checksum+`"` {
		t.Errorf("ETag = %q", etag)
	}

	// Encoded slashes resolve to the same document.
	w = do(t, router, http.MethodGet, "/documents/posts%2Fhello.json", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded path status = %d", w.Code)
	}
}

func TestCreateDuplicate(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "dup.json", testutil.CleanDoc)

	w := do(t, router, http.MethodPost, "/documents", map[string]string{"path": "dup.json", "content": testutil.CleanDoc})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	router := testEnv(t, "")

	cases := []struct {
		name string
		body any
	}{
		{"missing content", map[string]string{"path": "a.json"}},
		{"missing path", map[string]string{"content": testutil.CleanDoc}},
		{"bad extension", map[string]string{"path": "a.md", "content": testutil.CleanDoc}},
		{"traversal", map[string]string{"path": "../a.json", "content": testutil.CleanDoc}},
		{"bad document", map[string]string{"path": "a.json", "content": "{nope"}},
		{"bad json", "{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/documents", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	router := testEnv(t, "")
	created := createDoc(t, router, "lock.json", testutil.CleanDoc)

	update := map[string]string{"content": testutil.DirtyDoc}
	w := do(t, router, http.MethodPut, "/documents/lock.json", update, "If-Match", `"`+created.Checksum+`"`)
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}

	// Stale checksum → 409.
	w = do(t, router, http.MethodPut, "/documents/lock.json", update, "If-Match", created.Checksum)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "nolock.json", testutil.CleanDoc)

	w := do(t, router, http.MethodPut, "/documents/nolock.json", map[string]string{"content": testutil.DirtyDoc})
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
}

func TestUpdateDocument_NotFound(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodPut, "/documents/ghost.json", map[string]string{"content": testutil.CleanDoc})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestMoveDocument(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "old.json", testutil.CleanDoc)

	w := do(t, router, http.MethodPatch, "/documents/old.json", map[string]string{"path": "new/place.json"})
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/documents/old.json", nil); w.Code != http.StatusNotFound {
		t.Errorf("old path = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents/new/place.json", nil); w.Code != http.StatusOK {
		t.Errorf("new path = %d, want 200", w.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "bye.json", testutil.CleanDoc)

	if w := do(t, router, http.MethodDelete, "/documents/bye.json", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents/bye.json", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/documents/bye.json", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	router := testEnv(t, "")
	for _, name := range []string{"a.json", "b.json"} {
		createDoc(t, router, name, testutil.CleanDoc)
	}

	w := do(t, router, http.MethodGet, "/documents?limit=10&sort=title", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp DocumentListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Documents) != 2 || resp.Total != 2 {
		t.Errorf("resp = %+v", resp)
	}

	if w := do(t, router, http.MethodGet, "/documents?sort=size", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad sort = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/documents?limit=100000", nil); w.Code != http.StatusBadRequest {
		t.Errorf("huge limit = %d, want 400", w.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "r.json", testutil.DirtyDoc)
	createDoc(t, router, "s.json", testutil.CleanDoc)

	w := do(t, router, http.MethodGet, "/runs/r.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("runs = %d", w.Code)
	}
	var resp RunsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Runs) != 1 || !resp.Runs[0].Changed || resp.Runs[0].Report.InlineStylesStripped != 1 {
		t.Errorf("runs = %+v", resp.Runs)
	}

	w = do(t, router, http.MethodGet, "/runs", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Runs) != 2 {
		t.Errorf("all runs = %d, want 2", len(resp.Runs))
	}

	w = do(t, router, http.MethodGet, "/runs/none.json", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"runs":[]`) {
		t.Errorf("empty runs = %d %s", w.Code, w.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	router := testEnv(t, "")
	createDoc(t, router, "find.json", testutil.CleanDoc)

	w := do(t, router, http.MethodGet, "/search?q=Release", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Path != "find.json" {
		t.Errorf("search results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestPolicyEndpoint(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/policy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("policy = %d", w.Code)
	}
	var pol PolicyResponse
	_ = json.Unmarshal(w.Body.Bytes(), &pol)
	if pol.MaxListNesting != 4 {
		t.Errorf("maxListNesting = %d", pol.MaxListNesting)
	}
	found := false
	for _, typ := range pol.BlockTypes {
		if typ == "unstyled" {
			found = true
		}
	}
	if !found {
		t.Errorf("policy block types = %v, want unstyled included", pol.BlockTypes)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := testEnv(t, "secret123")
	w := do(t, router, http.MethodPost, "/documents",
		map[string]string{"path": "auth.json", "content": testutil.CleanDoc},
		"Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/documents", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/documents", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/documents", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context is done.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret", stubSSE)
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}
