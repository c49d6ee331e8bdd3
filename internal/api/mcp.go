package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/esiebomaj/commander/internal/ingest"
	"github.com/esiebomaj/commander/internal/storage"
)

const pendingResourceLimit = 20

// NewMCPServer exposes ingestion, search and the action lifecycle as MCP
// tools, backed by the same dependencies as the HTTP API.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"commander",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("commander turns incoming email, Slack, meeting and calendar events into proposed actions that wait for your approval."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ingest_context",
			mcp.WithDescription("Ingest one event (email, Slack message, meeting transcript or calendar event) and queue it for action proposal."),
			mcp.WithString("event", mcp.Description(`Event JSON with a "source_type" field (gmail, slack, meeting_transcript, calendar_event)`), mcp.Required()),
		),
		mcpIngestContext(deps),
	)

	s.AddTool(
		mcp.NewTool("search_contexts",
			mcp.WithDescription("Find previously ingested contexts similar to a text."),
			mcp.WithString("text", mcp.Description("Text to compare against"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithString("source_type", mcp.Description("Only return contexts of this source type")),
		),
		mcpSearchContexts(deps),
	)

	s.AddTool(
		mcp.NewTool("list_actions",
			mcp.WithDescription("List proposed actions, newest first."),
			mcp.WithString("status", mcp.Description("pending, executed, skipped or error")),
			mcp.WithString("source_type", mcp.Description("Source type of the originating context")),
			mcp.WithString("type", mcp.Description("Action type, e.g. gmail_send_email")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of actions (default 50)")),
		),
		mcpListActions(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_action",
			mcp.WithDescription("Approve and execute a proposed action. Executing an already executed action is a no-op."),
			mcp.WithNumber("id", mcp.Description("Action ID"), mcp.Required()),
		),
		mcpApproveAction(deps),
	)

	s.AddTool(
		mcp.NewTool("skip_action",
			mcp.WithDescription("Dismiss a pending action without executing it."),
			mcp.WithNumber("id", mcp.Description("Action ID"), mcp.Required()),
		),
		mcpSkipAction(deps),
	)

	s.AddTool(
		mcp.NewTool("update_action_payload",
			mcp.WithDescription("Replace the payload of a pending action before approving it."),
			mcp.WithNumber("id", mcp.Description("Action ID"), mcp.Required()),
			mcp.WithString("payload", mcp.Description("New payload JSON for the action's type"), mcp.Required()),
		),
		mcpUpdateActionPayload(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"actions://pending",
			"Pending Actions",
			mcp.WithResourceDescription("Most recent actions waiting for approval"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpIngestContext(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("event")
		if err != nil {
			return mcpError("event is required"), nil
		}
		c, err := ingest.DecodeEvent([]byte(raw))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		saved, err := deps.Pipeline.Submit(ctx, c)
		if err != nil {
			return mcpError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		status := "queued"
		if saved.Duplicate {
			status = "duplicate"
		}
		return mcpJSON(map[string]string{"id": saved.Context.ID, "status": status}), nil
	}
}

func mcpSearchContexts(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		results, err := searchSimilar(ctx, deps.Searcher, deps.Contexts, text,
			req.GetInt("limit", defaultSimilarLimit), req.GetString("source_type", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(results), nil
	}
}

func mcpListActions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := storage.ActionFilter{
			Status:     storage.ActionStatus(req.GetString("status", "")),
			SourceType: storage.SourceType(req.GetString("source_type", "")),
			Type:       storage.ActionType(req.GetString("type", "")),
			Limit:      min(max(req.GetInt("limit", defaultActionListLimit), 1), maxActionListLimit),
		}
		if f.Status != "" && !f.Status.Valid() {
			return mcpError(fmt.Sprintf("invalid status %q", f.Status)), nil
		}
		if f.SourceType != "" && !f.SourceType.Valid() {
			return mcpError(fmt.Sprintf("invalid source_type %q", f.SourceType)), nil
		}
		if f.Type != "" && !f.Type.Valid() {
			return mcpError(fmt.Sprintf("invalid type %q", f.Type)), nil
		}
		list, err := deps.Actions.List(ctx, f)
		if err != nil {
			return mcpError(fmt.Sprintf("listing actions failed: %v", err)), nil
		}
		views := actionViews(list)
		return mcpJSON(views), nil
	}
}

func mcpApproveAction(deps Deps) server.ToolHandlerFunc {
	return actionTool(func(ctx context.Context, id int64, _ mcp.CallToolRequest) (storage.Action, error) {
		return deps.Actions.Approve(ctx, id)
	})
}

func mcpSkipAction(deps Deps) server.ToolHandlerFunc {
	return actionTool(func(ctx context.Context, id int64, _ mcp.CallToolRequest) (storage.Action, error) {
		return deps.Actions.Skip(ctx, id)
	})
}

func mcpUpdateActionPayload(deps Deps) server.ToolHandlerFunc {
	return actionTool(func(ctx context.Context, id int64, req mcp.CallToolRequest) (storage.Action, error) {
		payload, err := req.RequireString("payload")
		if err != nil {
			return storage.Action{}, errors.New("payload is required")
		}
		return deps.Actions.UpdatePayload(ctx, id, json.RawMessage(payload))
	})
}

// actionTool wraps an operation on a single action addressed by the "id"
// argument and renders the resulting action.
func actionTool(fn func(ctx context.Context, id int64, req mcp.CallToolRequest) (storage.Action, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id is required"), nil
		}
		a, err := fn(ctx, int64(id), req)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("action %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("action %d: %v", id, err)), nil
		}
		return mcpJSON(NewActionView(a)), nil
	}
}

func mcpResourcePending(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := deps.Actions.List(ctx, storage.ActionFilter{Status: storage.StatusPending, Limit: pendingResourceLimit})
		if err != nil {
			return nil, fmt.Errorf("listing pending actions: %w", err)
		}
		b, err := json.Marshal(actionViews(list))
		if err != nil {
			return nil, fmt.Errorf("marshalling pending actions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
