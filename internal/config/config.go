package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Embedding EmbeddingConfig
	Vector    VectorConfig
	Decision  DecisionConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Actions   ActionsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCPStdio bool
}

type EngineConfig struct {
	Provider string // "ollama" or "openai"
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type OpenAIConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	APIKey     string
}

type AnthropicConfig struct {
	Model  string
	APIKey string
}

type EmbeddingConfig struct {
	MaxTokens  int
	Dimensions int
	Timeout    time.Duration
	CacheItems int
}

type VectorConfig struct {
	Backend string // "sqlite" or "chromem"
	Timeout time.Duration
}

type DecisionConfig struct {
	Reasoner     string // "engine" or "anthropic"
	Timeout      time.Duration
	HistoryLimit int
	MergeOrder   string
}

type StorageConfig struct {
	DataDir string
}

type IngestConfig struct {
	Workers           int
	PollInterval      time.Duration
	MaxAttempts       int
	ReconcileSchedule string
}

type ActionsConfig struct {
	ExecutorTimeout time.Duration
	ExecutorURL     string
	NotifyURL       string
	ClaimTTL        time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4000,
			MCPStdio: true,
		},
		Engine: EngineConfig{Provider: "ollama"},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Anthropic: AnthropicConfig{Model: "claude-sonnet-4-5"},
		Embedding: EmbeddingConfig{
			MaxTokens:  8000,
			Timeout:    20 * time.Second,
			CacheItems: 10000,
		},
		Vector: VectorConfig{
			Backend: "sqlite",
			Timeout: 5 * time.Second,
		},
		Decision: DecisionConfig{
			Reasoner:     "engine",
			Timeout:      60 * time.Second,
			HistoryLimit: 10,
			MergeOrder:   "similar_first",
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Ingest: IngestConfig{
			Workers:           4,
			PollInterval:      500 * time.Millisecond,
			MaxAttempts:       3,
			ReconcileSchedule: "@every 5m",
		},
		Actions: ActionsConfig{
			ExecutorTimeout: 30 * time.Second,
			ClaimTTL:        10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the platform-native backend, .env files,
// environment variables, and the secret store, in increasing precedence.
//
// On macOS the backend is UserDefaults (domain: com.commander.app).
// Elsewhere it is a YAML file at $XDG_CONFIG_HOME/commander/config.yaml.
//
// .env and .env.local in the working directory are loaded into the
// environment without overwriting variables that are already set.
// Environment variables (COMMANDER_*) override backend values.
func Load() (Config, error) {
	loadEnvFiles()
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", f, err)
		}
	}
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := applySecrets(&cfg, kc); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills secret keys not set in the environment from the
// keychain.
func applySecrets(cfg *Config, kc Keychain) error {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		v, err := kc.Get(s.account)
		if errors.Is(err, ErrSecretNotFound) || v == "" {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not read secret %s: %v\n", s.key, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// Validate checks enum keys and the secrets the selected providers need.
func (c Config) Validate() error {
	var errs []error
	switch c.Engine.Provider {
	case "ollama":
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("engine.provider openai requires an API key: set COMMANDER_OPENAI_API_KEY or store it in the keyring"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.provider must be ollama or openai, got %q", c.Engine.Provider))
	}
	switch c.Decision.Reasoner {
	case "engine":
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("decision.reasoner anthropic requires an API key: set COMMANDER_ANTHROPIC_API_KEY or store it in the keyring"))
		}
	default:
		errs = append(errs, fmt.Errorf("decision.reasoner must be engine or anthropic, got %q", c.Decision.Reasoner))
	}
	if c.Vector.Backend != "sqlite" && c.Vector.Backend != "chromem" {
		errs = append(errs, fmt.Errorf("vector.backend must be sqlite or chromem, got %q", c.Vector.Backend))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
