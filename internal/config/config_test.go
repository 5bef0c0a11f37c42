package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cfg := NewConfig("/var/lib/gonk")
	cfg.Depot.Type = "s3"
	cfg.Depot.S3Bucket = "datasets"
	cfg.Depot.S3Region = "us-east-1"
	cfg.Integrity.Mode = "signature"

	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.BaseDir != cfg.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, cfg.BaseDir)
	}
	if got.Depot.Type != "s3" || got.Depot.S3Bucket != "datasets" {
		t.Errorf("Depot = %+v", got.Depot)
	}
	if got.Integrity.Mode != "signature" {
		t.Errorf("Integrity.Mode = %q", got.Integrity.Mode)
	}
}

func TestDefaults(t *testing.T) {
	cfg := NewConfig("/data")
	if cfg.Integrity.Mode != "chain" {
		t.Errorf("default integrity mode = %q, want chain", cfg.Integrity.Mode)
	}
	if cfg.Record.Type != "filesystem" || cfg.State.Type != "sqlite" {
		t.Errorf("default backends = %q/%q", cfg.Record.Type, cfg.State.Type)
	}
	if !strings.HasPrefix(cfg.DatasetsDir(), "/data") {
		t.Errorf("DatasetsDir() = %q", cfg.DatasetsDir())
	}
	if cfg.UsersDBPath() != filepath.Join("/data", "gonk.db") {
		t.Errorf("UsersDBPath() = %q", cfg.UsersDBPath())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GONK_LISTEN", "0.0.0.0:9000")
	t.Setenv("GONK_BASE_DIR", "/override")

	var buf bytes.Buffer
	if err := Write(&buf, NewConfig("/data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q, want env override", got.Server.Listen)
	}
	if got.BaseDir != "/override" {
		t.Errorf("BaseDir = %q, want env override", got.BaseDir)
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gonk.toml")
	if err := Init(path, NewConfig("/data")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := Init(path, NewConfig("/other")); err == nil {
		t.Error("Init() overwrote an existing config")
	}
}
