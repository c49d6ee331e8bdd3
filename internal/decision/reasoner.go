package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/esiebomaj/commander/internal/engine"
	"github.com/esiebomaj/commander/internal/storage"
)

// RawOutput is the unparsed reasoner reply.
type RawOutput string

// Reasoner turns a prompt into a raw reply. Implementations do not interpret
// the reply; Engine parses and validates it.
type Reasoner interface {
	Decide(ctx context.Context, p Prompt) (RawOutput, error)
}

// Chatter is the subset of engine.Engine used by EngineReasoner.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// EngineReasoner asks a local or OpenAI-compatible engine for structured output.
type EngineReasoner struct {
	chat  Chatter
	model string
}

func NewEngineReasoner(chat Chatter, model string) *EngineReasoner {
	return &EngineReasoner{chat: chat, model: model}
}

func (r *EngineReasoner) Decide(ctx context.Context, p Prompt) (RawOutput, error) {
	msgs := []engine.Message{
		{Role: engine.RoleSystem, Content: p.System},
		{Role: engine.RoleUser, Content: p.User},
	}
	out, err := r.chat.Chat(ctx, r.model, msgs, actionsSchema())
	if err != nil {
		return "", fmt.Errorf("chat with %s: %w", r.model, err)
	}
	return RawOutput(out), nil
}

func actionsSchema() *engine.Schema {
	types := make([]string, len(storage.ActionTypes))
	for i, t := range storage.ActionTypes {
		types[i] = string(t)
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"actions": {
				Type:        "array",
				Description: "Proposed actions for the current input; may be empty",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]*engine.Schema{
						"type":       {Type: "string", Enum: types},
						"payload":    {Type: "object", Description: "Fields for the action type"},
						"confidence": {Type: "number", Description: "Between 0 and 1"},
					},
					Required: []string{"type", "payload", "confidence"},
				},
			},
		},
		Required: []string{"actions"},
	}
}

const defaultAnthropicMaxTokens = 2048

// AnthropicReasoner calls the Anthropic messages API and returns the text reply.
type AnthropicReasoner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicReasoner creates a reasoner for model. Extra request options
// (base URL, retries) are passed to the SDK client.
func NewAnthropicReasoner(apiKey, model string, opts ...option.RequestOption) *AnthropicReasoner {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicReasoner{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultAnthropicMaxTokens,
	}
}

func (r *AnthropicReasoner) Decide(ctx context.Context, p Prompt) (RawOutput, error) {
	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: p.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("claude reply has no text content (stop reason %s)", resp.StopReason)
	}
	return RawOutput(sb.String()), nil
}
