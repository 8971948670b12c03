package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/shape-forge/internal/config"
	"github.com/yourusername/shape-forge/internal/convert"
	"github.com/yourusername/shape-forge/internal/history"
	"github.com/yourusername/shape-forge/internal/storage"
)

func TestSetupRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		StoreBackend:   config.StoreSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "jobs.db"),
		QueueBackend:   config.QueueInline,
		MaxUploadBytes: 1 << 20,
		SessionSecret:  "test-secret",
	}
	logger := zaptest.NewLogger(t)

	store, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	svc, err := convert.NewService(store, local, &convert.ProcessConverter{Path: "true"}, convert.Options{}, logger)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	scheduler, err := setupScheduler(cfg, svc, logger)
	if err != nil {
		t.Fatalf("setupScheduler returned error: %v", err)
	}
	t.Cleanup(func() { _ = scheduler.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(history.Sessions(cfg.SessionSecret, false))
	setupRoutes(router, svc, scheduler, cfg, logger)

	for path, want := range map[string]int{
		"/health":          http.StatusOK,
		"/jobs":            http.StatusOK,
		"/status/missing":  http.StatusNotFound,
		"/download/x":      http.StatusNotFound,
		"/download/x/a.km": http.StatusNotFound,
		"/download-all/x":  http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d (%s)", path, want, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if strings.TrimSpace(rec.Body.String()) != `{"jobs":[]}` {
		t.Fatalf("unexpected empty history: %s", rec.Body.String())
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	if _, err := openStore(context.Background(), &config.Config{StoreBackend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
