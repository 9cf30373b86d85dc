package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/archiveswarm/coordinator/coordinator"
	"github.com/archiveswarm/coordinator/metrics"
	"github.com/archiveswarm/coordinator/objectstorefake"
	"github.com/archiveswarm/coordinator/registry"
	"github.com/archiveswarm/coordinator/store"
	"github.com/archiveswarm/coordinator/storefake"
)

func newTestRouter(t *testing.T) (*mux.Router, *storefake.Gateway) {
	t.Helper()
	sf := storefake.New()
	of := objectstorefake.New()
	reg := registry.New(sf, "https://swarm-batches.example.com", 0)
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	log := zap.NewNop().Sugar()
	c := coordinator.New(sf, of, reg, log, m, 0.05, nil)
	srv := NewServer(c, reg, sf, log, m)
	return NewRouter(srv), sf
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestCreateWorkerAndDispatch(t *testing.T) {
	router, sf := newTestRouter(t)
	sf.PutBatch(store.Batch{ID: "b1", Videos: []string{"v1", "v2"}})

	rec := doJSON(t, router, http.MethodPost, "/api/workers/create", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create worker status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	workerID, _ := created["worker_id"].(string)
	if workerID == "" {
		t.Fatal("expected non-empty worker_id")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/batches", map[string]string{"worker_id": workerID})
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d, body = %s", rec.Code, rec.Body.String())
	}
	dispatched := decodeBody(t, rec)
	if dispatched["batch_id"] != "b1" {
		t.Errorf("batch_id = %v, want b1", dispatched["batch_id"])
	}

	// Second dispatch without committing must return error_code 4.
	rec = doJSON(t, router, http.MethodPost, "/api/batches", map[string]string{"worker_id": workerID})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	envelope := decodeBody(t, rec)
	if code, _ := envelope["error_code"].(float64); code != 4 {
		t.Errorf("error_code = %v, want 4", envelope["error_code"])
	}
	if envelope["batch_id"] != "b1" {
		t.Errorf("batch_id = %v, want b1", envelope["batch_id"])
	}
}

func TestUnknownWorker(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/batches", map[string]string{"worker_id": "ghost"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	envelope := decodeBody(t, rec)
	if code, _ := envelope["error_code"].(float64); code != 2 {
		t.Errorf("error_code = %v, want 2 (UNKNOWN_WORKER)", envelope["error_code"])
	}
}

func TestVideosSubmit_FilterAndDedup(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/videos/submit", map[string][]string{
		"videos": {"abc", "aaaaaaaaaaa"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	inserted, _ := body["inserted"].([]any)
	if len(inserted) != 1 || inserted[0] != "aaaaaaaaaaa" {
		t.Errorf("inserted = %v, want [aaaaaaaaaaa]", inserted)
	}

	// Second submission of the same set must insert nothing.
	rec = doJSON(t, router, http.MethodPost, "/api/videos/submit", map[string][]string{
		"videos": {"abc", "aaaaaaaaaaa"},
	})
	body = decodeBody(t, rec)
	inserted, _ = body["inserted"].([]any)
	if len(inserted) != 0 {
		t.Errorf("second submission inserted = %v, want []", inserted)
	}
}

func TestSubmitCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/videos/submit", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestStats(t *testing.T) {
	router, sf := newTestRouter(t)
	sf.PutBatch(store.Batch{ID: "b1", Finished: true, ContentSize: 100})
	sf.PutBatch(store.Batch{ID: "b2", Finished: false})

	rec := doJSON(t, router, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["batch_count"].(float64) != 2 {
		t.Errorf("batch_count = %v, want 2", body["batch_count"])
	}
	if body["batch_finished"].(float64) != 1 {
		t.Errorf("batch_finished = %v, want 1", body["batch_finished"])
	}
	if body["estimated_video_count"].(float64) != 20000 {
		t.Errorf("estimated_video_count = %v, want 20000", body["estimated_video_count"])
	}
}

func TestNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
