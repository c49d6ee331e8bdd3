package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestMCPTool_IngestContext(t *testing.T) {
	env := newTestEnv(t)
	h := mcpIngestContext(env.deps)

	result := callTool(t, h, "ingest_context", map[string]interface{}{"event": emailEvent})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var resp map[string]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp["status"] != "queued" {
		t.Errorf("status = %q, want queued", resp["status"])
	}

	result = callTool(t, h, "ingest_context", map[string]interface{}{"event": emailEvent})
	if !strings.Contains(toolText(t, result), `"duplicate"`) {
		t.Errorf("second ingest = %s, want duplicate", toolText(t, result))
	}
}

func TestMCPTool_IngestContext_Invalid(t *testing.T) {
	env := newTestEnv(t)
	h := mcpIngestContext(env.deps)

	if result := callTool(t, h, "ingest_context", map[string]interface{}{}); !result.IsError {
		t.Error("missing event should be an error")
	}
	if result := callTool(t, h, "ingest_context", map[string]interface{}{"event": `{"source_type":"fax"}`}); !result.IsError {
		t.Error("unknown source should be an error")
	}
}

func TestMCPTool_SearchContexts(t *testing.T) {
	env := newTestEnv(t)
	c := env.saveContext(t, "msg-1", "Thursday")
	env.searcher.searchFn = func(_ context.Context, _ string, k int, _ *retrieval.Filter) ([]retrieval.ScoredPoint, error) {
		if k != 5 {
			t.Errorf("k = %d, want 5", k)
		}
		return []retrieval.ScoredPoint{{ID: c.ID, Score: 0.8}}, nil
	}

	result := callTool(t, mcpSearchContexts(env.deps), "search_contexts", map[string]interface{}{"text": "thursday", "limit": 5})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var results []SimilarResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(results) != 1 || results[0].ID != c.ID {
		t.Errorf("results = %+v", results)
	}
}

func TestMCPTool_SearchContexts_Empty(t *testing.T) {
	env := newTestEnv(t)
	result := callTool(t, mcpSearchContexts(env.deps), "search_contexts", map[string]interface{}{"text": "nothing"})
	if text := toolText(t, result); text != "[]" {
		t.Errorf("text = %s, want []", text)
	}
}

func TestMCPTool_ListActions(t *testing.T) {
	env := newTestEnv(t)
	env.propose(t, "msg-1")

	result := callTool(t, mcpListActions(env.deps), "list_actions", map[string]interface{}{"status": "pending"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var views []ActionView
	json.Unmarshal([]byte(toolText(t, result)), &views)
	if len(views) != 1 || views[0].Type != string(storage.ActionSendEmail) {
		t.Errorf("views = %+v", views)
	}

	if result := callTool(t, mcpListActions(env.deps), "list_actions", map[string]interface{}{"status": "done"}); !result.IsError {
		t.Error("invalid status should be an error")
	}
}

func TestMCPTool_ApproveSkipUpdate(t *testing.T) {
	env := newTestEnv(t)
	a := env.propose(t, "msg-1")
	b := env.propose(t, "msg-2")

	result := callTool(t, mcpUpdateActionPayload(env.deps), "update_action_payload", map[string]interface{}{
		"id":      float64(a.ID),
		"payload": `{"to_email":"alice@example.com","subject":"Re: Thursday","body":"4pm?"}`,
	})
	if result.IsError {
		t.Fatalf("update: %s", toolText(t, result))
	}

	result = callTool(t, mcpApproveAction(env.deps), "approve_action", map[string]interface{}{"id": float64(a.ID)})
	var view ActionView
	json.Unmarshal([]byte(toolText(t, result)), &view)
	if view.Status != "executed" || !strings.Contains(string(view.Payload), "4pm?") {
		t.Errorf("approved = %+v", view)
	}

	result = callTool(t, mcpSkipAction(env.deps), "skip_action", map[string]interface{}{"id": float64(b.ID)})
	json.Unmarshal([]byte(toolText(t, result)), &view)
	if view.Status != "skipped" {
		t.Errorf("skipped = %+v", view)
	}

	result = callTool(t, mcpApproveAction(env.deps), "approve_action", map[string]interface{}{"id": float64(999)})
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("missing action = %s", toolText(t, result))
	}
	if result := callTool(t, mcpApproveAction(env.deps), "approve_action", map[string]interface{}{}); !result.IsError {
		t.Error("missing id should be an error")
	}
}

func TestMCPResource_Pending(t *testing.T) {
	env := newTestEnv(t)
	a := env.propose(t, "msg-1")
	b := env.propose(t, "msg-2")
	if _, err := env.lifecycle.Skip(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourcePending(env.deps)(context.Background(), makeReadResourceRequest("actions://pending"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var views []ActionView
	if err := json.Unmarshal([]byte(tc.Text), &views); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(views) != 1 || views[0].ID != a.ID {
		t.Errorf("pending = %+v", views)
	}
}

func TestNewMCPServer(t *testing.T) {
	env := newTestEnv(t)
	if NewMCPServer(env.deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
