package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardia-systems/docvault/interfaces"
	"github.com/kardia-systems/docvault/queue"
)

func newTestServer(t *testing.T) (*Server, *queue.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := queue.NewMemoryStore(queue.Options{})
	manager := queue.NewManager(store, logger)

	srv := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, manager)
	return srv, store
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.getRouter()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"liveness", "/livez", http.StatusOK, `{"status":"alive"}`},
		{"readiness", "/readyz", http.StatusOK, `{"status":"ready"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestDrainUndrainCycle(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.getRouter()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/drain")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "draining")

	// Draining flips readiness.
	rec = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// A second drain reports the current state without changing it.
	rec = get("/drain")
	assert.Contains(t, rec.Body.String(), "already draining")

	rec = get("/undrain")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get("/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.getRouter()
	ctx := context.Background()

	docID := uuid.New()
	store.RegisterDocument(&interfaces.Document{ID: docID})
	_, err := store.Enqueue(ctx, docID, 0, time.Time{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats["pending"])
	assert.Zero(t, stats["processing"])
}

func TestGetDocumentEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.getRouter()

	docID := uuid.New()
	store.RegisterDocument(&interfaces.Document{
		ID: docID,
		Location: interfaces.StorageLocation{
			Backend: interfaces.BackendS3,
			Path:    "scopes/acme/2026/08/report.pdf",
		},
		SizeBytes:      2048,
		ChecksumMD5:    "900150983cd24fb0d6963f7d28e17f72",
		ChecksumSHA256: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/"+docID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, docID.String(), body["id"])
	assert.Equal(t, "s3", body["storage_backend"])
	assert.Equal(t, "scopes/acme/2026/08/report.pdf", body["storage_path"])
	assert.Equal(t, float64(2048), body["file_size"])
	assert.Equal(t, "added", body["status"])

	// Unknown document and malformed id.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
