package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartdevs17/crm-sync-engine/internal/config"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := storage.NewSQLStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	}, storage.DialectSQLite)
	if err := store.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return NewServer(&config.Config{}, Deps{Storage: store})
}

func putConfig(t *testing.T, srv *Server, cfg *models.SyncConfig) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to encode config: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestPutConfigValidatesBounds(t *testing.T) {
	srv := newTestServer(t)

	if rec := putConfig(t, srv, models.DefaultSyncConfig()); rec.Code != http.StatusOK {
		t.Fatalf("Valid config rejected: %d %s", rec.Code, rec.Body.String())
	}

	cases := map[string]func(*models.SyncConfig){
		"zero retries":      func(c *models.SyncConfig) { c.MaxRetries = 0 },
		"excessive retries": func(c *models.SyncConfig) { c.MaxRetries = 1000 },
		"zero batch size":   func(c *models.SyncConfig) { c.BatchSize = 0 },
		"negative window":   func(c *models.SyncConfig) { c.DedupWindow = -time.Second },
	}
	for name, mutate := range cases {
		cfg := models.DefaultSyncConfig()
		mutate(cfg)
		if rec := putConfig(t, srv, cfg); rec.Code != http.StatusBadRequest {
			t.Errorf("Config with %s accepted: %d", name, rec.Code)
		}
	}

	t.Log("✓ Sync config bounds enforced")
}
