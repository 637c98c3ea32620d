package refstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *memStore) {
	t.Helper()
	store := &memStore{data: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/kv/")
		store.mu.Lock()
		defer store.mu.Unlock()

		switch {
		case r.Method == http.MethodPut:
			var req nodeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			store.data[key] = req.Value.(string)
			w.WriteHeader(http.StatusCreated)
		case strings.HasSuffix(key, "/*"):
			prefix := strings.TrimSuffix(key, "*")
			var nodes []nodeResponse
			for k, v := range store.data {
				if strings.HasPrefix(k, prefix) {
					nodes = append(nodes, nodeResponse{Key: k, Value: v})
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
		default:
			v, ok := store.data[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(nodeResponse{Key: key, Value: v})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestClient_PutGet(t *testing.T) {
	srv, store := newTestServer(t, "secret")
	c := NewClient(srv.URL+"/", "secret")
	defer c.Close()
	ctx := context.Background()

	if err := c.Put(ctx, "refs/Lib.xml", []byte("<doc/>")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if store.data["refs/Lib.xml"] != "<doc/>" {
		t.Errorf("expected stored value, got %q", store.data["refs/Lib.xml"])
	}

	doc, err := c.Get(ctx, "refs/Lib.xml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc == nil || string(doc.Data) != "<doc/>" || doc.Key != "refs/Lib.xml" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestClient_GetMissing(t *testing.T) {
	srv, _ := newTestServer(t, "k")
	c := NewClient(srv.URL, "k")
	doc, err := c.Get(context.Background(), "nope.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil document, got %+v", doc)
	}
}

func TestClient_FetchAllFiltersXML(t *testing.T) {
	srv, store := newTestServer(t, "k")
	store.data["refs/A.xml"] = "<doc>a</doc>"
	store.data["refs/B.XML"] = "<doc>b</doc>"
	store.data["refs/readme.txt"] = "hi"
	store.data["other/C.xml"] = "<doc>c</doc>"

	c := NewClient(srv.URL, "k")
	docs, err := c.FetchAll(context.Background(), "refs")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d: %+v", len(docs), docs)
	}
	for _, d := range docs {
		if !strings.HasPrefix(d.Key, "refs/") {
			t.Errorf("unexpected key %q", d.Key)
		}
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t, "right")
	c := NewClient(srv.URL, "wrong")
	_, err := c.Get(context.Background(), "x.xml")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Error("expected 401 not to be retryable")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(nodeResponse{Key: "a.xml", Value: "<doc/>"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.backoff = func(int) time.Duration { return 0 }

	doc, err := c.Get(context.Background(), "a.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc == nil || string(doc.Data) != "<doc/>" {
		t.Errorf("unexpected document %+v", doc)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.backoff = func(int) time.Duration { return 0 }

	_, err := c.List(context.Background(), "refs", 10)
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if int(calls.Load()) != MaxRetries {
		t.Errorf("expected %d calls, got %d", MaxRetries, calls.Load())
	}
}

func TestClient_NonStringValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"key_path": "a.xml", "value": map[string]any{"x": 1}})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Get(context.Background(), "a.xml")
	if err == nil {
		t.Fatal("expected error for non-string value")
	}
}

func TestRetryableError(t *testing.T) {
	inner := errors.New("boom")
	err := &RetryableError{Err: inner, StatusCode: 503}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if IsRetryable(inner) {
		t.Error("expected plain error not retryable")
	}
}

func TestBackoff_Bounds(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt)
		base := time.Duration(1<<uint(attempt)) * time.Second
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		if d < base || d >= base+base/2 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v)", attempt, d, base, base+base/2)
		}
	}
}
