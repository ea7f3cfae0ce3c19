package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMergesLayers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  user: tasks
  password: ${DB_SECRET}
  name: tasks
redis:
  addr: localhost:6379
sync:
  reconcile_interval: 15s
  heartbeat_interval: 2s
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
sync:
  reconcile_interval: 30s
`)
	writeFile(t, dir, "secrets.env", "# local secrets\nDB_SECRET=\"s3cret\"\n")

	cfg, err := Load("production", dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.Host != "db.internal" {
		t.Fatalf("expected env file to override host, got %q", cfg.DB.Host)
	}
	if cfg.DB.Port != 5432 {
		t.Fatalf("expected base port to survive merge, got %d", cfg.DB.Port)
	}
	if cfg.DB.Password != "s3cret" {
		t.Fatalf("expected placeholder substitution, got %q", cfg.DB.Password)
	}
	if cfg.Sync.ReconcileInterval != 30*time.Second {
		t.Fatalf("unexpected reconcile interval %v", cfg.Sync.ReconcileInterval)
	}
	if cfg.Sync.HeartbeatInterval != 2*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", cfg.Sync.HeartbeatInterval)
	}
	if cfg.Sync.MaxAge != DefaultSyncConfig().MaxAge {
		t.Fatalf("expected default max age, got %v", cfg.Sync.MaxAge)
	}
	if cfg.Sync.KeyPrefix != "tasksync:" {
		t.Fatalf("expected default prefix, got %q", cfg.Sync.KeyPrefix)
	}
}

func TestLoadEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: \":8080\"\njwt:\n  secret: file\n")
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SYNC_RECONCILE_INTERVAL", "3s")

	cfg, err := Load("local", dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != ":9090" {
		t.Fatalf("expected env port, got %q", cfg.Server.Port)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.JWT.Secret)
	}
	if cfg.Sync.ReconcileInterval != 3*time.Second {
		t.Fatalf("expected env interval, got %v", cfg.Sync.ReconcileInterval)
	}
}

func TestLoadMissingBase(t *testing.T) {
	if _, err := Load("local", t.TempDir()); err == nil {
		t.Fatal("expected error without base.yaml")
	}
}
