package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docinherit/internal/config"
	"github.com/dgallion1/docinherit/internal/pipeline"
	"github.com/dgallion1/docinherit/internal/refstore"
)

const (
	testKey = "secret"
	baseRef = `<doc><members>` +
		`<member name="M:Base.Run"><summary>Runs.</summary><param name="x">base x</param></member>` +
		`</members></doc>`
	derivedTarget = `<doc><members>` +
		`<member name="M:Derived.Run"><inheritdoc cref="M:Base.Run"/><param name="x">derived x</param></member>` +
		`</members></doc>`
)

func newTestServer(t *testing.T, refs *refstore.Client, prefix string) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.Indent = ""
	cfg.WorkerCount = 1
	cfg.RefPrefix = prefix
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch := pipeline.NewOrchestrator(cfg, refs, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)
	return NewServer(orch, refs, log, cfg)
}

type upload struct {
	field, name, body string
}

func multipartBody(t *testing.T, uploads []upload, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, u := range uploads {
		fw, err := mw.CreateFormFile(u.field, u.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(u.body))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func submit(t *testing.T, s *Server, uploads []upload, fields map[string]string) string {
	t.Helper()
	body, ct := multipartBody(t, uploads, fields)
	rec := do(t, s, http.MethodPost, "/api/resolve", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID   string `json:"job_id"`
		PollURL string `json:"poll_url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PollURL != "/api/resolve/"+resp.JobID+"/status" {
		t.Errorf("unexpected poll url %q", resp.PollURL)
	}
	return resp.JobID
}

func waitDone(t *testing.T, s *Server, id string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := do(t, s, http.MethodGet, "/api/resolve/"+id+"/status", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", rec.Code)
		}
		var snap pipeline.JobSnapshot
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		switch snap.Status {
		case pipeline.StatusCompleted, pipeline.StatusPartial, pipeline.StatusFailed:
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %q", id, snap.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, "")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, nil, "")
	for _, header := range []string{"", "Bearer wrong", "Basic secret"} {
		req := httptest.NewRequest(http.MethodGet, "/api/stats/resolve", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestResolveRoundTrip(t *testing.T) {
	s := newTestServer(t, nil, "")
	id := submit(t, s, []upload{
		{"files", "Derived.xml", derivedTarget},
		{"references", "Base.xml", baseRef},
	}, nil)

	snap := waitDone(t, s, id)
	if snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Progress.PlaceholdersResolved != 1 || snap.Progress.DuplicatesRemoved != 1 {
		t.Errorf("unexpected progress %+v", snap.Progress)
	}

	rec := do(t, s, http.MethodGet, "/api/resolve/"+id+"/files/Derived.xml", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := `<?xml version="1.0" encoding="utf-8"?>` + "\n" + `<doc><members>` +
		`<member name="M:Derived.Run"><summary>Runs.</summary><param name="x">derived x</param></member>` +
		`</members></doc>`
	if rec.Body.String() != want {
		t.Errorf("expected %s, got %s", want, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/resolve/"+id+"/files/Derived.xml?format=markdown", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("markdown: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("expected markdown content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "## `M:Derived.Run`\n\nRuns.\n") {
		t.Errorf("unexpected markdown %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Derived.md") {
		t.Errorf("expected Derived.md attachment, got %q", cd)
	}

	rec = do(t, s, http.MethodGet, "/api/resolve/"+id+"/files/Derived.xml?format=pdf", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pdf: expected 400, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/resolve/"+id+"/files/Other.xml", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file: expected 404, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/resolve/nope/files/Derived.xml", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job: expected 404, got %d", rec.Code)
	}
}

func TestResolveFormOptions(t *testing.T) {
	s := newTestServer(t, nil, "")
	chain := `<doc><members>` +
		`<member name="A"><summary>a</summary></member>` +
		`<member name="B"><inheritdoc cref="A"/></member>` +
		`<member name="C"><inheritdoc cref="B"/></member>` +
		`</members></doc>`
	id := submit(t, s, []upload{{"files", "Chain.xml", chain}}, map[string]string{
		"passes": "3",
		"indent": "2",
	})
	if snap := waitDone(t, s, id); snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q", snap.Status)
	}
	rec := do(t, s, http.MethodGet, "/api/resolve/"+id+"/files/Chain.xml", nil, "")
	want := `<?xml version="1.0" encoding="utf-8"?>
<doc>
  <members>
    <member name="A">
      <summary>a</summary>
    </member>
    <member name="B">
      <summary>a</summary>
    </member>
    <member name="C">
      <summary>a</summary>
    </member>
  </members>
</doc>
`
	if rec.Body.String() != want {
		t.Errorf("expected\n%s\ngot\n%s", want, rec.Body.String())
	}
}

func TestResolveRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, nil, "")
	cases := []struct {
		name    string
		uploads []upload
		fields  map[string]string
	}{
		{"no files", nil, nil},
		{"unsupported type", []upload{{"files", "notes.txt", "hi"}}, nil},
		{"duplicate names", []upload{{"files", "a.xml", "<a/>"}, {"files", "dir/a.xml", "<a/>"}}, nil},
		{"bad passes", []upload{{"files", "a.xml", "<a/>"}}, map[string]string{"passes": "zero"}},
		{"bad indent", []upload{{"files", "a.xml", "<a/>"}}, map[string]string{"indent": "wide"}},
		{"bad reference", []upload{{"files", "a.xml", "<a/>"}, {"references", "r.json", "{}"}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.uploads, tc.fields)
			rec := do(t, s, http.MethodPost, "/api/resolve", body, ct)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestResolveStats(t *testing.T) {
	s := newTestServer(t, nil, "")
	id := submit(t, s, []upload{{"files", "Derived.xml", derivedTarget}}, nil)
	waitDone(t, s, id)

	rec := do(t, s, http.MethodGet, "/api/stats/resolve", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		QueueDepth int                    `json:"queue_depth"`
		Stats      pipeline.StatsSnapshot `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stats.Jobs != 1 || resp.Stats.Trees != 1 {
		t.Errorf("unexpected stats %+v", resp.Stats)
	}
}

func newRefStore(t *testing.T) (*refstore.Client, *sync.Map) {
	t.Helper()
	var data sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/kv/")
		switch {
		case r.Method == http.MethodPut:
			var body struct {
				Value string `json:"value"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			data.Store(key, body.Value)
			w.WriteHeader(http.StatusCreated)
		case strings.HasSuffix(key, "/*"):
			prefix := strings.TrimSuffix(key, "*")
			var nodes []map[string]any
			data.Range(func(k, v any) bool {
				if strings.HasPrefix(k.(string), prefix) {
					nodes = append(nodes, map[string]any{"key_path": k, "value": v})
				}
				return true
			})
			json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
		default:
			http.NotFound(w, r)
		}
	}))
	rs := refstore.NewClient(srv.URL, "")
	t.Cleanup(func() {
		rs.Close()
		srv.Close()
	})
	return rs, &data
}

func TestPublishAndListReferences(t *testing.T) {
	rs, data := newRefStore(t)
	data.Store("refs/Base.xml", baseRef)
	s := newTestServer(t, rs, "refs")

	id := submit(t, s, []upload{{"files", "Derived.xml", derivedTarget}}, nil)
	if snap := waitDone(t, s, id); snap.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}

	rec := do(t, s, http.MethodPost, "/api/resolve/"+id+"/publish?prefix=published", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, ok := data.Load("published/Derived.xml")
	if !ok || !strings.Contains(stored.(string), "<summary>Runs.</summary>") {
		t.Errorf("expected resolved file in store, got %v", stored)
	}

	rec = do(t, s, http.MethodGet, "/api/references", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var resp struct {
		Prefix     string           `json:"prefix"`
		References []map[string]any `json:"references"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Prefix != "refs" || len(resp.References) != 1 || resp.References[0]["key"] != "refs/Base.xml" {
		t.Errorf("unexpected references %+v", resp)
	}
}

func TestReferenceStoreNotConfigured(t *testing.T) {
	s := newTestServer(t, nil, "")
	rec := do(t, s, http.MethodGet, "/api/references?prefix=refs", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodPost, "/api/resolve/x/publish", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
