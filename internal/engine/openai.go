package engine

import (
	"context"
	"time"

	"github.com/esiebomaj/commander/internal/openai"
)

// OpenAIEngine adapts an OpenAI-compatible API to the Engine interface.
type OpenAIEngine struct {
	client     *openai.Client
	dimensions int
}

var _ Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine creates an engine for the API at baseURL. dimensions is
// forwarded to the embeddings endpoint when positive.
func NewOpenAIEngine(apiKey, baseURL string, dimensions int) *OpenAIEngine {
	return &OpenAIEngine{client: openai.NewClient(apiKey, baseURL), dimensions: dimensions}
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]openai.Message, len(messages))
	for i, m := range messages {
		msgs[i] = openai.Message{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatRequest{Model: model, Messages: msgs}
	if jsonSchema != nil {
		zero := 0.0
		req.Temperature = &zero
		req.ResponseFormat = &openai.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &openai.JSONSchema{Name: "response", Schema: jsonSchema},
		}
	}
	return e.client.Chat(ctx, req)
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.client.EmbedBatch(ctx, model, e.dimensions, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, model, e.dimensions, texts)
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}
