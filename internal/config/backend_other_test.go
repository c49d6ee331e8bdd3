//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestYAMLBackend_NestedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 4100
  mcp_stdio: false
vector:
  backend: chromem
decision:
  timeout: 45s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newYAMLBackend(path), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 || cfg.Server.MCPStdio {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Vector.Backend != "chromem" {
		t.Errorf("Vector.Backend = %q", cfg.Vector.Backend)
	}
	if cfg.Decision.Timeout != 45*time.Second {
		t.Errorf("Decision.Timeout = %v", cfg.Decision.Timeout)
	}
}

func TestYAMLBackend_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commander", "config.yaml")
	b := newYAMLBackend(path)
	if err := setKey(b, "ingest.workers", "8"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "log.level", "debug"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	reloaded := newYAMLBackend(path)
	if v, ok, err := reloaded.GetInt("ingest.workers"); err != nil || !ok || v != 8 {
		t.Errorf("ingest.workers = %d, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.GetString("log.level"); !ok || v != "debug" {
		t.Errorf("log.level = %q, %v", v, ok)
	}

	if err := reloaded.Delete("log.level"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newYAMLBackend(path).GetString("log.level"); ok {
		t.Error("log.level still present after Delete")
	}
}

func TestYAMLBackend_InvalidInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server:\n  port: [1, 2]\n"), 0o600)
	if _, err := loadWith(newYAMLBackend(path), &mockKeychain{}); err == nil {
		t.Error("expected error for non-integer port")
	}
}
