package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/saveenergy/linkspeed/internal/config"
	"github.com/saveenergy/linkspeed/internal/results"
	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxBlobSize = 1 << 20
	cfg.MaxUploadBytes = 1 << 20
	cfg.MaxConcurrentTransfers = 4
	cfg.ServerName = "test-node"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Router, *httptest.Server) {
	t.Helper()
	router := NewRouter(cfg, "1.2.3")
	srv := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(srv.Close)
	return router, srv
}

func TestEmptyEndpoint(t *testing.T) {
	_, srv := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/empty")
	if err != nil {
		t.Fatalf("GET /empty: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Fatalf("body length = %d, want 0", len(body))
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("cache-control = %q", resp.Header.Get("Cache-Control"))
	}
}

func TestBlobEndpointServesExactSize(t *testing.T) {
	_, srv := newTestServer(t, testConfig())

	for _, size := range []int{0, 1, 4096, 1 << 20} {
		resp, err := http.Get(srv.URL + "/blob/" + strconv.Itoa(size))
		if err != nil {
			t.Fatalf("GET blob %d: %v", size, err)
		}
		n, _ := io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("size %d: status = %d", size, resp.StatusCode)
		}
		if n != int64(size) {
			t.Fatalf("size %d: got %d bytes", size, n)
		}
		if resp.Header.Get("Content-Type") != "application/octet-stream" {
			t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
		}
	}
}

func TestBlobEndpointRejectsBadSize(t *testing.T) {
	_, srv := newTestServer(t, testConfig())

	for _, size := range []string{"-1", "abc", strconv.Itoa(1<<20 + 1)} {
		resp, err := http.Get(srv.URL + "/blob/" + size)
		if err != nil {
			t.Fatalf("GET blob %s: %v", size, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("size %s: status = %d, want 400", size, resp.StatusCode)
		}
	}
}

func TestUploadEndpoint(t *testing.T) {
	_, srv := newTestServer(t, testConfig())

	resp, err := http.Post(srv.URL+"/upload", "application/octet-stream", bytes.NewReader(make([]byte, 5000)))
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Bytes != 5000 {
		t.Fatalf("bytes = %d, want 5000", got.Bytes)
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 1024
	h := NewRouter(cfg, "").SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 2048)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("declared length: status = %d, want 413", rec.Code)
	}

	// Unknown length is caught while reading.
	req = httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(bytes.NewReader(make([]byte, 2048))))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed: status = %d, want 413", rec.Code)
	}
}

func TestTransferCapReturns503(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTransfers = 1
	router := NewRouter(cfg, "")
	h := router.SetupRoutes()

	if !router.Probe().acquire() {
		t.Fatal("first slot should be free")
	}
	defer router.Probe().release()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blob/10", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("blob status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("x")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("upload status = %d, want 503", rec.Code)
	}
	if router.Probe().Active() != 1 {
		t.Fatalf("active = %d, want 1", router.Probe().Active())
	}
}

func TestHealthAndVersion(t *testing.T) {
	h := NewRouter(testConfig(), "1.2.3").SetupRoutes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))
	var v VersionResponse
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if v.Version != "1.2.3" || v.ServerName != "test-node" {
		t.Fatalf("version = %+v", v)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := NewRouter(testConfig(), "").SetupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "trace-123" {
		t.Fatalf("request id = %q, want trace-123", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "bad id with spaces")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	got := rec.Header().Get(requestIDHeader)
	if got == "" || got == "bad id with spaces" || len(got) != 36 {
		t.Fatalf("expected generated uuid, got %q", got)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"*.example.com"}
	h := NewRouter(cfg, "").SetupRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "https://speed.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://speed.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}

	req = httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight status = %d, want 403", rec.Code)
	}
}

func TestProbesAreNotRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerIP = 1
	cfg.GlobalRateLimit = 1
	h := NewRouter(cfg, "").SetupRoutes()

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/empty", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("ping %d status = %d", i, rec.Code)
		}
	}

	statuses := make([]int, 2)
	for i := range statuses {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))
		statuses[i] = rec.Code
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusTooManyRequests {
		t.Fatalf("api statuses = %v", statuses)
	}
}

func TestMeasureAgainstServer(t *testing.T) {
	cfg := testConfig()
	store, err := results.New(filepath.Join(t.TempDir(), "results.db"), 100, 0)
	if err != nil {
		t.Fatalf("results store: %v", err)
	}
	defer store.Close()

	router := NewRouter(cfg, "")
	rh := results.NewHandler(store)
	rh.SetClientIPFunc(router.ClientIP)
	router.SetResultsHandler(rh)
	srv := httptest.NewServer(router.SetupRoutes())
	defer srv.Close()

	result, err := linkspeed.Measure(context.Background(),
		linkspeed.WithBaseURL(srv.URL),
		linkspeed.WithSamples(2),
		linkspeed.WithBlobSize(64*1024),
	)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if result.Download.BitsPerSecond <= 0 || result.Upload.BitsPerSecond <= 0 {
		t.Fatalf("result = %+v", result)
	}

	payload, _ := json.Marshal(struct {
		*linkspeed.Result
		Samples  int   `json:"samples"`
		BlobSize int64 `json:"blob_size"`
	}{result, 2, 64 * 1024})
	resp, err := http.Post(srv.URL+"/api/v1/results", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("save status = %d: %s", resp.StatusCode, body)
	}
	var saved struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, err := store.Get(saved.ID)
	if err != nil || got == nil {
		t.Fatalf("stored result missing: %v", err)
	}
	if got.ClientIP != "127.0.0.1" {
		t.Fatalf("client ip = %q", got.ClientIP)
	}
	if got.Samples != 2 || got.BlobSize != 64*1024 {
		t.Fatalf("stored = %+v", got)
	}
}

func TestStatsCountTransfers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTransfers = 1
	router := NewRouter(cfg, "")
	h := router.SetupRoutes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blob/2048", nil))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 1000))))

	router.Probe().acquire()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blob/1", nil))
	router.Probe().release()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Download.Count != 1 || stats.Download.Bytes != 2048 {
		t.Fatalf("download = %+v", stats.Download)
	}
	if stats.Upload.Count != 1 || stats.Upload.Bytes != 1000 {
		t.Fatalf("upload = %+v", stats.Upload)
	}
	if stats.Rejected != 1 || stats.ActiveTransfers != 0 {
		t.Fatalf("rejected = %d, active = %d", stats.Rejected, stats.ActiveTransfers)
	}
}
