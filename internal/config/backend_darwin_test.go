//go:build darwin

package config

import (
	"errors"
	"os/exec"
	"testing"
)

// fakeDefaults emulates a defaults(1) domain in memory.
func fakeDefaults(t *testing.T) (*defaultsBackend, map[string]string) {
	t.Helper()
	notFound := runDefaultsMissing(t)
	store := map[string]string{}
	run := func(args ...string) ([]byte, error) {
		if args[1] != "test.domain" {
			t.Fatalf("domain = %q", args[1])
		}
		switch args[0] {
		case "read":
			v, ok := store[args[2]]
			if !ok {
				return []byte("does not exist"), notFound
			}
			return []byte(v + "\n"), nil
		case "write":
			store[args[2]] = args[4]
			return nil, nil
		case "delete":
			if _, ok := store[args[2]]; !ok {
				return nil, notFound
			}
			delete(store, args[2])
			return nil, nil
		}
		return nil, errors.New("unexpected verb " + args[0])
	}
	return &defaultsBackend{domain: "test.domain", run: run}, store
}

func runDefaultsMissing(t *testing.T) error {
	t.Helper()
	err := exec.Command("false").Run()
	if !missing(err) {
		t.Fatalf("false(1) did not exit 1: %v", err)
	}
	return err
}

func TestDefaultsBackend_RoundTrip(t *testing.T) {
	b, store := fakeDefaults(t)

	if _, ok, err := b.GetString("ollama.chat_model"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := b.SetInt("server.port", 4100); err != nil {
		t.Fatal(err)
	}
	if store["server.port"] != "4100" {
		t.Errorf("stored %q", store["server.port"])
	}
	n, ok, err := b.GetInt("server.port")
	if err != nil || !ok || n != 4100 {
		t.Errorf("GetInt = %d, %v, %v", n, ok, err)
	}

	if err := b.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete("server.port"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestDefaultsBackend_InvalidInt(t *testing.T) {
	b, store := fakeDefaults(t)
	store["server.port"] = "abc"
	if _, _, err := b.GetInt("server.port"); err == nil {
		t.Error("expected error for non-integer value")
	}
}

func TestDefaultsBackend_LoadConfig(t *testing.T) {
	b, _ := fakeDefaults(t)
	if err := setKey(b, "decision.timeout", "90s"); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Decision.Timeout.String() != "1m30s" {
		t.Errorf("timeout = %v", cfg.Decision.Timeout)
	}
}
