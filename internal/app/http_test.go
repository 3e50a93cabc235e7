package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"distill/api/internal/blocks"
	"distill/api/internal/engine"
	"distill/api/internal/logger"
	"distill/api/internal/order"
	"distill/api/internal/realtime"
	"distill/api/internal/remote"
	"distill/api/internal/store"
	"distill/api/internal/synced"
)

func serve(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	hub := realtime.NewHub(logger.Nop(), "*")
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx, env.bus) }()
	srv := httptest.NewServer(NewHTTPServer(env.service, hub, "*").Handler())
	t.Cleanup(func() {
		cancel()
		hub.Close()
		srv.Close()
	})
	return srv
}

func doRequest(t *testing.T, handler http.Handler, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return payload.Code, payload.Error
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv()
	server := NewHTTPServer(env.service, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv()
	server := NewHTTPServer(env.service, nil, "*")

	rr := doRequest(t, server.Handler(), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = doRequest(t, server.Handler(), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response struct {
		OK     bool                      `json:"ok"`
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.OK || response.Status != "not_ready" || response.Checks["database"]["error"] != "connection refused" {
		t.Fatalf("unexpected readiness payload %+v", response)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.service, nil, "*").Handler()
	a := mustCreate(t, env, nil, "A")
	b := mustCreate(t, env, &a, "B")

	cases := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"missing page", http.MethodGet, "/api/pages/ghost/blocks", "", http.StatusNotFound, "NOT_FOUND"},
		{"cycle", http.MethodPost, "/api/pages/reorder", `{"pageIds":["` + a + `"],"parentId":"` + b + `"}`, http.StatusUnprocessableEntity, "CYCLE"},
		{"bad json", http.MethodPost, "/api/pages", `{`, http.StatusBadRequest, "INVALID_BODY"},
		{"empty patch", http.MethodPut, "/api/pages/" + a, `{}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"restore live page", http.MethodPut, "/api/pages/" + a + "/restore", "", http.StatusConflict, "NOT_IN_TRASH"},
		{"unknown route", http.MethodGet, "/api/unknown", "", http.StatusNotFound, "NOT_FOUND"},
		{"unlink plain block", http.MethodPost, "/api/synced-blocks/unlink", `{"blockId":""}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad export format", http.MethodGet, "/api/pages/" + a + "/export?format=odt", "", http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{"unknown version", http.MethodGet, "/api/pages/" + a + "/history/deadbeef", "", http.StatusNotFound, "VERSION_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, handler, tc.method, tc.path, tc.body, "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code, _ := decodeError(t, rr); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestUserHeaderScopesPages(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.service, nil, "*").Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/pages", `{"title":"Mine"}`, "alice")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pages/tree", "", "bob")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty tree for another user, got %s", rr.Body.String())
	}
	rr = doRequest(t, handler, http.MethodGet, "/api/pages/tree", "", "alice")
	if !strings.Contains(rr.Body.String(), `"title":"Mine"`) {
		t.Fatalf("expected alice's page, got %s", rr.Body.String())
	}
	rr = doRequest(t, handler, http.MethodGet, "/api/pages/tree", "", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected default user to see nothing, got %s", rr.Body.String())
	}
}

func TestExportEndpointServesHTML(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.service, nil, "*").Handler()
	page := mustCreate(t, env, nil, "Weekly notes")
	if _, err := env.service.SaveBlocks(context.Background(), "local", page, []blocks.Row{{ID: "b1", Type: "text", Content: "**done**"}}); err != nil {
		t.Fatalf("SaveBlocks() error = %v", err)
	}

	rr := doRequest(t, handler, http.MethodGet, "/api/pages/"+page+"/export", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "Weekly-notes.html") {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if !strings.Contains(rr.Body.String(), "<strong>done</strong>") {
		t.Fatalf("expected rendered content, got %s", rr.Body.String())
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.service, nil, "*").Handler()
	page := mustCreate(t, env, nil, "Doc")
	rr := doRequest(t, handler, http.MethodPut, "/api/pages/"+page+"/blocks/batch", `{"blocks":[{"id":"b1","type":"text","content":"v1"}]}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("batch: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pages/"+page+"/history", "", "")
	var listing struct {
		PageID  string `json:"pageId"`
		Commits []struct {
			Hash string `json:"hash"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if listing.PageID != page || len(listing.Commits) != 1 {
		t.Fatalf("unexpected history %s", rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pages/"+page+"/history/hash-"+page, "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"content":"v1"`) {
		t.Fatalf("unexpected version response %d %s", rr.Code, rr.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.service, nil, "*").Handler()
	mustCreate(t, env, nil, "Roadmap")

	rr := doRequest(t, handler, http.MethodGet, "/api/search?q=Roadmap", "", "")
	var resp struct {
		Results []struct {
			Title string `json:"title"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Title != "Roadmap" {
		t.Fatalf("unexpected search response %s", rr.Body.String())
	}
}

func TestEngineAgainstServer(t *testing.T) {
	env := newTestEnv()
	srv := serve(t, env)
	client := remote.New(srv.URL, remote.WithUser("local"))
	ctx := context.Background()

	eng := engine.New(client, logger.Nop())
	if err := eng.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a, err := eng.Create(ctx, "", "A")
	if err != nil {
		t.Fatalf("Create(A) error = %v", err)
	}
	b, err := eng.Create(ctx, a, "B")
	if err != nil {
		t.Fatalf("Create(B) error = %v", err)
	}
	if err := eng.Rename(ctx, b, "Renamed"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if got := env.store.pages[b].Title; got != "Renamed" {
		t.Fatalf("expected server title Renamed, got %q", got)
	}

	if err := eng.Move(ctx, a, b, 0); !errors.Is(err, order.ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}

	if err := eng.Move(ctx, b, "", 0); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	roots, err := client.Tree(ctx)
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if len(roots) != 2 || roots[0].ID != b || roots[1].ID != a {
		t.Fatalf("expected B before A at root, got %+v", roots)
	}

	if err := eng.Delete(ctx, a); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	entries, err := client.Trash(ctx)
	if err != nil || len(entries) != 1 || entries[0].ID != a {
		t.Fatalf("Trash() = %+v, %v", entries, err)
	}
	if err := eng.Restore(ctx, a); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, ok := eng.Page(a); !ok {
		t.Fatalf("expected restored page in local state")
	}

	_, err = client.GetSyncedBlock(ctx, "ghost")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found from client, got %v", err)
	}
}

func TestSyncedServiceReceivesServerEvents(t *testing.T) {
	env := newTestEnv()
	srv := serve(t, env)
	client := remote.New(srv.URL, remote.WithUser("local"))

	wsURL, err := realtime.WebSocketURL(client.BaseURL())
	if err != nil {
		t.Fatalf("WebSocketURL() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	feed, err := realtime.DialFeed(ctx, wsURL, client.Header(), logger.Nop())
	if err != nil {
		t.Fatalf("DialFeed() error = %v", err)
	}
	defer feed.Close()

	// A second client edits through the API; the first sees it via the feed.
	svc := synced.NewService(client, feed, logger.Nop())
	if err := svc.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	other := remote.New(srv.URL, remote.WithUser("local"))
	created, err := other.CreateSyncedBlock(ctx, "Shared", []synced.Item{{Type: "text", Content: "v0"}})
	if err != nil {
		t.Fatalf("CreateSyncedBlock() error = %v", err)
	}
	stop := svc.Track(created.ID)
	defer stop()

	deadline := time.Now().Add(3 * time.Second)
	for i := 1; ; i++ {
		content := []synced.Item{{Type: "text", Content: "v" + string(rune('0'+i%10))}}
		if _, err := other.UpdateSyncedBlock(ctx, created.ID, synced.Update{Content: content}); err != nil {
			t.Fatalf("UpdateSyncedBlock() error = %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		if b, ok := svc.Lookup(created.ID); ok && len(b.Content) == 1 && b.Content[0].Content != "v0" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("synced cache never saw the server update")
		}
	}
}

func TestEscapedPageIDsRoute(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.service, nil, "*").Handler()
	if _, err := env.store.InsertPage(context.Background(), store.Page{ID: "a/b", UserID: "local", Title: "x"}); err != nil {
		t.Fatalf("InsertPage() error = %v", err)
	}

	rr := doRequest(t, handler, http.MethodPut, "/api/pages/a%2Fb/collapse", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !env.store.pages["a/b"].Collapsed {
		t.Fatalf("expected escaped id to reach the page")
	}
}
