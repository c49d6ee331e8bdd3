package engine

import (
	"context"
	"time"

	"github.com/esiebomaj/commander/internal/ollama"
)

const (
	// Decision prompts carry the event plus up to a dozen history entries,
	// more than Ollama's 2048-token default window.
	decisionContextWindow = 8192
	modelKeepAlive        = 10 * time.Minute
)

// OllamaEngine runs chat and embeddings on a local Ollama server.
type OllamaEngine struct {
	client     *ollama.Client
	dimensions int
}

var (
	_ Engine       = (*OllamaEngine)(nil)
	_ ModelManager = (*OllamaEngine)(nil)
	_ Versioner    = (*OllamaEngine)(nil)
)

// NewOllamaEngine creates an engine for the server at baseURL. dimensions is
// forwarded to the embed endpoint when positive.
func NewOllamaEngine(baseURL string, dimensions int) *OllamaEngine {
	return &OllamaEngine{
		client:     ollama.New(baseURL, ollama.WithKeepAlive(modelKeepAlive)),
		dimensions: dimensions,
	}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	req := ollama.ChatRequest{Model: model, Messages: make([]ollama.Message, len(messages))}
	for i, m := range messages {
		req.Messages[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	// A typed nil would serialize as "format": null.
	if schema != nil {
		zero := 0.0
		req.Format = schema
		req.Temperature = &zero
		req.NumCtx = decisionContextWindow
	}
	return e.client.Chat(ctx, req)
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, model, []string{text}, e.dimensions)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, model, texts, e.dimensions)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) Version(ctx context.Context) (string, error) {
	return e.client.Version(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
