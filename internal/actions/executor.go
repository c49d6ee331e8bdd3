package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/esiebomaj/commander/internal/storage"
)

// Outcome is what an executor reports for one dispatch.
type Outcome struct {
	Success bool
	Detail  map[string]any
}

// Executor performs an approved action against an external service.
type Executor interface {
	Execute(ctx context.Context, t storage.ActionType, payload json.RawMessage) (Outcome, error)
}

// ExecutionFailure is a failed dispatch with a machine-readable reason.
type ExecutionFailure struct {
	Reason string
	Detail map[string]any
	Err    error
}

func (e *ExecutionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("execution failed (%s)", e.Reason)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// Registry dispatches to an executor registered for the action type.
type Registry struct {
	mu        sync.RWMutex
	executors map[storage.ActionType]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[storage.ActionType]Executor)}
}

// Register sets the executor for the given types, replacing earlier ones.
func (r *Registry) Register(e Executor, types ...storage.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		r.executors[t] = e
	}
}

func (r *Registry) Execute(ctx context.Context, t storage.ActionType, payload json.RawMessage) (Outcome, error) {
	r.mu.RLock()
	e, ok := r.executors[t]
	r.mu.RUnlock()
	if !ok {
		return Outcome{}, &ExecutionFailure{Reason: "unsupported_action", Detail: map[string]any{"type": string(t)}}
	}
	return e.Execute(ctx, t, payload)
}

// NoopExecutor completes no_action without side effects.
type NoopExecutor struct{}

func (NoopExecutor) Execute(context.Context, storage.ActionType, json.RawMessage) (Outcome, error) {
	return Outcome{Success: true, Detail: map[string]any{"note": "No action taken"}}, nil
}

// WebhookExecutor delegates execution to an external service. The service
// receives {"type","payload"} and answers {"success":bool,...}; on failure it
// should include {"error":{"reason":...}}.
type WebhookExecutor struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookExecutor creates an executor posting to url. token, when set, is
// sent as a bearer token.
func NewWebhookExecutor(url, token string) *WebhookExecutor {
	return &WebhookExecutor{url: url, token: token, client: &http.Client{}}
}

func (w *WebhookExecutor) Execute(ctx context.Context, t storage.ActionType, payload json.RawMessage) (Outcome, error) {
	body, err := json.Marshal(map[string]any{"type": t, "payload": payload})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshalling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, fmt.Errorf("reading response: %w", err)
	}

	var reply map[string]any
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil && resp.StatusCode < 300 {
			return Outcome{}, &ExecutionFailure{Reason: "invalid_response", Err: err}
		}
	}

	if resp.StatusCode >= 300 {
		detail := map[string]any{"status": resp.StatusCode}
		reason := fmt.Sprintf("http_%d", resp.StatusCode)
		if e, ok := reply["error"].(map[string]any); ok {
			for k, v := range e {
				detail[k] = v
			}
			if r, ok := e["reason"].(string); ok && r != "" {
				reason = r
			}
		}
		return Outcome{}, &ExecutionFailure{Reason: reason, Detail: detail}
	}

	success, _ := reply["success"].(bool)
	delete(reply, "success")
	if !success {
		reason := "failed"
		if e, ok := reply["error"].(map[string]any); ok {
			if r, ok := e["reason"].(string); ok && r != "" {
				reason = r
			}
			delete(reply, "error")
			for k, v := range e {
				if k != "reason" {
					reply[k] = v
				}
			}
		}
		return Outcome{}, &ExecutionFailure{Reason: reason, Detail: reply}
	}
	return Outcome{Success: true, Detail: reply}, nil
}

// LocalExecutor records actions as JSON lines under a directory instead of
// calling real services. Emails go to outbox.jsonl, meetings to
// meetings.jsonl and todos to todos.jsonl.
type LocalExecutor struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewLocalExecutor(dir string) *LocalExecutor {
	return &LocalExecutor{dir: dir, now: time.Now}
}

var localFiles = map[storage.ActionType]string{
	storage.ActionSendEmail:       "outbox.jsonl",
	storage.ActionCreateDraft:     "outbox.jsonl",
	storage.ActionScheduleMeeting: "meetings.jsonl",
	storage.ActionCreateTodo:      "todos.jsonl",
}

var localNotes = map[storage.ActionType]string{
	storage.ActionSendEmail:       "Email recorded in local outbox",
	storage.ActionCreateDraft:     "Draft recorded in local outbox",
	storage.ActionScheduleMeeting: "Meeting recorded locally",
	storage.ActionCreateTodo:      "Todo recorded locally",
}

func (l *LocalExecutor) Execute(ctx context.Context, t storage.ActionType, payload json.RawMessage) (Outcome, error) {
	name, ok := localFiles[t]
	if !ok {
		return Outcome{}, &ExecutionFailure{Reason: "unsupported_action", Detail: map[string]any{"type": string(t)}}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	id := uuid.New().String()
	line, err := json.Marshal(map[string]any{
		"id":          id,
		"type":        t,
		"payload":     payload,
		"recorded_at": l.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshalling record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return Outcome{}, &ExecutionFailure{Reason: "storage_unavailable", Err: err}
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return Outcome{}, &ExecutionFailure{Reason: "storage_unavailable", Err: err}
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Outcome{}, &ExecutionFailure{Reason: "storage_unavailable", Err: err}
	}

	return Outcome{Success: true, Detail: map[string]any{"record_id": id, "note": localNotes[t]}}, nil
}
