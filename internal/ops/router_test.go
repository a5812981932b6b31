package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	eng, err := storage.New(config.StorageConfig{
		Backend:       "sqlite",
		Path:          filepath.Join(t.TempDir(), "meshvault.db"),
		BusyTimeoutMS: 5000,
		MinConns:      1,
		MaxConns:      4,
		CacheKB:       2048,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return NewRouter(&config.Config{Version: "0.4.0"}, eng, nil, nil)
}

func TestHealthResolvesEngineFromRequestContext(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestHealthWithoutBoundEngineDegrades(t *testing.T) {
	// The handler alone, no bindEngine middleware in front of it.
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no storage engine bound") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStatusReportsSchemaVersion(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["schema_version"]; !ok {
		t.Error("status page missing schema_version")
	}
	if _, ok := body["health"]; !ok {
		t.Error("status page missing health")
	}
}

func TestRequestLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	h := requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req = req.WithContext(context.WithValue(req.Context(), chimw.RequestIDKey, "req-123"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	if !strings.Contains(line, `"request_id":"req-123"`) {
		t.Errorf("log line missing request id: %s", line)
	}
	if !strings.Contains(line, `"status":204`) {
		t.Errorf("log line missing status: %s", line)
	}
}
