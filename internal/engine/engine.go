// Package engine hides the inference backend behind one interface. The
// embedder turns context text into vectors through it and the decision
// reasoner asks it for schema-constrained action proposals.
package engine

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is the JSON schema subset used to constrain chat output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Engine is a local Ollama server or any OpenAI-compatible API.
type Engine interface {
	// Chat returns the assistant reply. A non-nil schema requests JSON output
	// matching it, sampled deterministically.
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)

	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// EmbedBatch embeds texts in one upstream call, preserving input order.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)

	IsRunning(ctx context.Context) bool
}

// PullProgress reports download progress while a model is pulled.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// ModelManager is implemented by backends that keep models locally.
type ModelManager interface {
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Versioner is implemented by backends that report a server version.
type Versioner interface {
	Version(ctx context.Context) (string, error)
}
