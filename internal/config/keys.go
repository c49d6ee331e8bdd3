package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // keychain account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "COMMANDER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "COMMANDER_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "engine.provider", typ: kString, env: "COMMANDER_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "ollama.base_url", typ: kString, env: "COMMANDER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "COMMANDER_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "COMMANDER_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "openai.base_url", typ: kString, env: "COMMANDER_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "COMMANDER_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.embed_model", typ: kString, env: "COMMANDER_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.api_key", typ: kString, env: "COMMANDER_OPENAI_API_KEY",
		secret: true, account: SecretOpenAIKey,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "anthropic.model", typ: kString, env: "COMMANDER_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.Model },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "COMMANDER_ANTHROPIC_API_KEY",
		secret: true, account: SecretAnthropicKey,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "embedding.max_tokens", typ: kInt, env: "COMMANDER_EMBEDDING_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxTokens },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "COMMANDER_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "COMMANDER_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "embedding.cache_items", typ: kInt, env: "COMMANDER_EMBEDDING_CACHE_ITEMS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheItems = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheItems },
	},
	{
		key: "vector.backend", typ: kString, env: "COMMANDER_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "vector.timeout", typ: kDuration, env: "COMMANDER_VECTOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Vector.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Vector.Timeout },
	},
	{
		key: "decision.reasoner", typ: kString, env: "COMMANDER_DECISION_REASONER",
		apply:   func(cfg *Config, v any) { cfg.Decision.Reasoner = v.(string) },
		extract: func(cfg Config) any { return cfg.Decision.Reasoner },
	},
	{
		key: "decision.timeout", typ: kDuration, env: "COMMANDER_DECISION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Decision.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Decision.Timeout },
	},
	{
		key: "decision.history_limit", typ: kInt, env: "COMMANDER_DECISION_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Decision.HistoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Decision.HistoryLimit },
	},
	{
		key: "decision.merge_order", typ: kString, env: "COMMANDER_DECISION_MERGE_ORDER",
		apply:   func(cfg *Config, v any) { cfg.Decision.MergeOrder = v.(string) },
		extract: func(cfg Config) any { return cfg.Decision.MergeOrder },
	},
	{
		key: "storage.data_dir", typ: kString, env: "COMMANDER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ingest.workers", typ: kInt, env: "COMMANDER_INGEST_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Workers },
	},
	{
		key: "ingest.poll_interval", typ: kDuration, env: "COMMANDER_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
	{
		key: "ingest.max_attempts", typ: kInt, env: "COMMANDER_INGEST_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxAttempts },
	},
	{
		key: "ingest.reconcile_schedule", typ: kString, env: "COMMANDER_INGEST_RECONCILE_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ReconcileSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.ReconcileSchedule },
	},
	{
		key: "actions.executor_timeout", typ: kDuration, env: "COMMANDER_ACTIONS_EXECUTOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Actions.ExecutorTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Actions.ExecutorTimeout },
	},
	{
		key: "actions.executor_url", typ: kString, env: "COMMANDER_ACTIONS_EXECUTOR_URL",
		apply:   func(cfg *Config, v any) { cfg.Actions.ExecutorURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Actions.ExecutorURL },
	},
	{
		key: "actions.notify_url", typ: kString, env: "COMMANDER_ACTIONS_NOTIFY_URL",
		apply:   func(cfg *Config, v any) { cfg.Actions.NotifyURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Actions.NotifyURL },
	},
	{
		key: "actions.claim_ttl", typ: kDuration, env: "COMMANDER_ACTIONS_CLAIM_TTL",
		apply:   func(cfg *Config, v any) { cfg.Actions.ClaimTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Actions.ClaimTTL },
	},
	{
		key: "log.level", typ: kString, env: "COMMANDER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "COMMANDER_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parse converts raw into the Go value for the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative duration %s", raw)
		}
		return d, err
	default:
		return raw, nil
	}
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

// ConfigBackend persists non-secret keys by their dotted name: a defaults
// domain on macOS, a YAML file elsewhere. ok is false for a key never set.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typeName(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typeName(), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
