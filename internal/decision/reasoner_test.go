package decision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/esiebomaj/commander/internal/engine"
)

type mockChatter struct {
	chatFn func(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error) {
	return m.chatFn(ctx, model, messages, schema)
}

func TestEngineReasoner_SendsSchema(t *testing.T) {
	var gotModel string
	var gotSchema *engine.Schema
	var gotMsgs []engine.Message
	chat := &mockChatter{chatFn: func(_ context.Context, model string, msgs []engine.Message, schema *engine.Schema) (string, error) {
		gotModel, gotMsgs, gotSchema = model, msgs, schema
		return `{"actions":[]}`, nil
	}}

	out, err := NewEngineReasoner(chat, "llama3.1").Decide(context.Background(), Prompt{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if out != `{"actions":[]}` {
		t.Errorf("out = %q", out)
	}
	if gotModel != "llama3.1" {
		t.Errorf("model = %q", gotModel)
	}
	if len(gotMsgs) != 2 || gotMsgs[0].Role != "system" || gotMsgs[1].Content != "usr" {
		t.Errorf("messages = %+v", gotMsgs)
	}
	if gotSchema == nil || gotSchema.Properties["actions"] == nil {
		t.Fatal("schema missing actions property")
	}
	if enum := gotSchema.Properties["actions"].Items.Properties["type"].Enum; len(enum) != 5 {
		t.Errorf("type enum = %v, want 5 action types", enum)
	}
}

func TestEngineReasoner_Error(t *testing.T) {
	chat := &mockChatter{chatFn: func(context.Context, string, []engine.Message, *engine.Schema) (string, error) {
		return "", errors.New("model not found")
	}}
	if _, err := NewEngineReasoner(chat, "m").Decide(context.Background(), Prompt{}); err == nil {
		t.Error("expected error")
	}
}

func TestAnthropicReasoner_ReturnsText(t *testing.T) {
	var req struct {
		Model    string                  `json:"model"`
		System   []struct{ Text string } `json:"system"`
		Messages []json.RawMessage       `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"{\"actions\":"},{"type":"text","text":"[]}"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":10,"output_tokens":5}
		}`))
	}))
	defer srv.Close()

	r := NewAnthropicReasoner("test-key", "claude-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	out, err := r.Decide(context.Background(), Prompt{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if out != `{"actions":[]}` {
		t.Errorf("out = %q", out)
	}
	if req.Model != "claude-test" {
		t.Errorf("model = %q", req.Model)
	}
	if len(req.System) != 1 || req.System[0].Text != "sys" {
		t.Errorf("system = %+v", req.System)
	}
	if len(req.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(req.Messages))
	}
}

func TestAnthropicReasoner_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	r := NewAnthropicReasoner("k", "nope", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	if _, err := r.Decide(context.Background(), Prompt{System: "s", User: "u"}); err == nil {
		t.Error("expected error for 400 response")
	}
}
