package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

const keyringService = "commander"

// Secret account names.
const (
	SecretAPIToken     = "api_token"
	SecretOpenAIKey    = "openai_api_key"
	SecretAnthropicKey = "anthropic_api_key"
)

// ErrSecretNotFound is returned when no store holds the requested secret.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain stores secrets for the commander service.
type Keychain interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

// NewKeychain returns the OS keyring, falling back to a 0600 secrets.json
// in the data directory when no keyring is reachable (headless Linux).
func NewKeychain() Keychain {
	return &fallbackKeychain{
		primary:  osKeyring{},
		fallback: &fileKeychain{path: filepath.Join(dataDirFromEnv(), "secrets.json")},
	}
}

func dataDirFromEnv() string {
	if dir := os.Getenv("COMMANDER_STORAGE_DATA_DIR"); dir != "" {
		return dir
	}
	return defaultDataDir()
}

type osKeyring struct{}

func (osKeyring) Get(account string) (string, error) {
	v, err := keyring.Get(keyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	return v, err
}

func (osKeyring) Set(account, value string) error {
	return keyring.Set(keyringService, account, value)
}

type fallbackKeychain struct {
	primary, fallback Keychain
}

func (k *fallbackKeychain) Get(account string) (string, error) {
	v, err := k.primary.Get(account)
	if err == nil && v != "" {
		return v, nil
	}
	return k.fallback.Get(account)
}

func (k *fallbackKeychain) Set(account, value string) error {
	if err := k.primary.Set(account, value); err == nil {
		return nil
	}
	return k.fallback.Set(account, value)
}

// fileKeychain keeps secrets in a JSON object keyed by service then account.
type fileKeychain struct {
	path string
	mu   sync.Mutex
}

func (f *fileKeychain) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (f *fileKeychain) Get(account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	v, ok := secrets[keyringService][account]
	if !ok || v == "" {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (f *fileKeychain) Set(account, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if secrets[keyringService] == nil {
		secrets[keyringService] = make(map[string]string)
	}
	secrets[keyringService][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// GetAPIToken returns the bearer token for the local API. COMMANDER_API_TOKEN
// wins; otherwise the stored token is used, and one is generated and stored
// on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("COMMANDER_API_TOKEN"); tok != "" {
		return tok, nil
	}
	tok, err := kc.Get(SecretAPIToken)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	tok = uuid.NewString()
	if err := kc.Set(SecretAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
