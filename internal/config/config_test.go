package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Setenv("VRAC_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Storage.Backend != "filesystem" {
		t.Fatalf("expected filesystem default backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Root == "" {
		t.Fatal("expected a derived storage root")
	}
	if cfg.Upload.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Fatalf("expected default upload cap, got %d", cfg.Upload.MaxUploadBytes)
	}
	if cfg.Sweep.IntervalMinutes != DefaultSweepInterval {
		t.Fatalf("expected default sweep interval, got %d", cfg.Sweep.IntervalMinutes)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VRAC_CONFIG_DIR", dir)

	content := `
listen_addr = "0.0.0.0:9000"
db_path = "/srv/vrac/vrac.db"

[storage]
backend = "object_store"
endpoint = "minio.local:9000"
bucket = "drops"
use_ssl = true

[upload]
max_upload_bytes = 1048576

[sweep]
interval_minutes = 15
`
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("expected configured listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Storage.Backend != "object_store" || cfg.Storage.Bucket != "drops" || !cfg.Storage.UseSSL {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Upload.MaxUploadBytes != 1048576 {
		t.Fatalf("expected configured upload cap, got %d", cfg.Upload.MaxUploadBytes)
	}
	if cfg.Sweep.IntervalMinutes != 15 {
		t.Fatalf("expected configured sweep interval, got %d", cfg.Sweep.IntervalMinutes)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VRAC_CONFIG_DIR", t.TempDir())
	t.Setenv("VRAC_LISTEN_ADDR", "127.0.0.1:1234")
	t.Setenv("VRAC_DB", "/tmp/override.db")
	t.Setenv("VRAC_STORAGE_BACKEND", "object_store")
	t.Setenv("VRAC_S3_ENDPOINT", "s3.example.com")
	t.Setenv("VRAC_S3_BUCKET", "env-bucket")
	t.Setenv("VRAC_S3_ACCESS_KEY", "ak")
	t.Setenv("VRAC_S3_SECRET_KEY", "sk")
	t.Setenv("VRAC_MAX_UPLOAD_BYTES", "2048")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:1234" {
		t.Fatalf("expected env listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
	if cfg.Storage.Endpoint != "s3.example.com" || cfg.Storage.AccessKey != "ak" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Upload.MaxUploadBytes != 2048 {
		t.Fatalf("expected env upload cap, got %d", cfg.Upload.MaxUploadBytes)
	}
}

func TestValidateRejectsIncompleteObjectStore(t *testing.T) {
	t.Setenv("VRAC_CONFIG_DIR", t.TempDir())
	t.Setenv("VRAC_STORAGE_BACKEND", "object_store")
	// No endpoint or bucket set.
	t.Setenv("VRAC_S3_ENDPOINT", "")
	t.Setenv("VRAC_S3_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for incomplete object_store config")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("VRAC_CONFIG_DIR", t.TempDir())
	t.Setenv("VRAC_STORAGE_BACKEND", "tape")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VRAC_CONFIG_DIR", dir)
	path := filepath.Join(dir, configFileName)

	if err := SetKey(path, "sweep.interval_minutes", "30"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKey(path, "storage.backend", "filesystem"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKey(path, "nonexistent.key", "x"); err == nil {
		t.Fatal("expected unknown key rejected")
	}
	if err := SetKey(path, "sweep.interval_minutes", "zero"); err == nil {
		t.Fatal("expected non-integer rejected")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sweep.IntervalMinutes != 30 {
		t.Fatalf("expected persisted interval, got %d", cfg.Sweep.IntervalMinutes)
	}

	value, err := cfg.Get("sweep.interval_minutes")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "30" {
		t.Fatalf("expected '30', got %q", value)
	}
}
