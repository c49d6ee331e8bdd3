//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.commander.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "commander")
	}
	return "commander-data"
}

// ConfigLocation describes where `config set` writes.
func ConfigLocation() string {
	return "macOS defaults domain " + defaultsDomain
}

// defaultsRunner runs the defaults(1) tool and returns its combined output.
type defaultsRunner func(args ...string) ([]byte, error)

func runDefaults(args ...string) ([]byte, error) {
	return exec.Command("defaults", args...).CombinedOutput()
}

// defaultsBackend keeps flat dotted keys in a UserDefaults domain.
type defaultsBackend struct {
	domain string
	run    defaultsRunner
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain, run: runDefaults}
}

// missing reports whether err is defaults(1) saying the key does not exist.
func missing(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	val := strings.TrimSpace(string(out))
	switch {
	case missing(err):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, val)
	}
	return val, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	raw, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
	}
	return n, true, nil
}

func (b *defaultsBackend) write(key string, args ...string) error {
	out, err := b.run(append([]string{"write", b.domain, key}, args...)...)
	if err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

// Delete is a no-op for keys that were never written.
func (b *defaultsBackend) Delete(key string) error {
	out, err := b.run("delete", b.domain, key)
	if err != nil && !missing(err) {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}
