package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/esiebomaj/commander/internal/api"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with canned JSON. A response
// starting with a three digit status and a space sets that status.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			if len(resp) > 4 && resp[3] == ' ' && resp[0] >= '1' && resp[0] <= '5' {
				code := int(resp[0]-'0')*100 + int(resp[1]-'0')*10 + int(resp[2]-'0')
				w.WriteHeader(code)
				resp = resp[4:]
			}
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

// useClient points the commands at ts for the duration of the test.
func useClient(t *testing.T, ts *testServer) {
	t.Helper()
	prev := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = prev })
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

var ctx = context.Background()

func TestIngestEmail_PostsEnvelope(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/contexts": `202 {"id":"ctx-1","status":"queued"}`,
	})
	useClient(t, ts)

	err := runCLI(t, "ingest", "email", "--id", "msg-1", "--from", "alice@example.com",
		"--subject", "Sync", "--body", "Can we meet Thursday?", "--time", "2026-03-02T10:00:00Z")
	if err != nil {
		t.Fatalf("ingest email: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	want := map[string]string{
		"source_type": "gmail",
		"source_id":   "msg-1",
		"from_email":  "alice@example.com",
		"body":        "Can we meet Thursday?",
		"timestamp":   "2026-03-02T10:00:00Z",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body.%s = %v, want %s", k, body[k], v)
		}
	}
}

func TestIngestEmail_MissingID(t *testing.T) {
	ts := newTestServer(t, nil)
	useClient(t, ts)

	err := runCLI(t, "ingest", "email", "--id", "", "--body", "hi")
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
	if len(ts.recorded()) != 0 {
		t.Error("no request should be sent")
	}
}

func TestIngestBatch_ReportsFailures(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/contexts/batch": `{"count":3,"results":[
			{"index":0,"id":"a","status":"processed","actions":[{"id":1,"type":"create_todo","confidence":0.9}]},
			{"index":1,"id":"b","status":"duplicate"},
			{"index":2,"status":"error","error":"unknown source_type \"fax\""}]}`,
	})

	events := []json.RawMessage{
		json.RawMessage(`{"source_type":"gmail","source_id":"1"}`),
		json.RawMessage(`{"source_type":"gmail","source_id":"2"}`),
		json.RawMessage(`{"source_type":"fax","source_id":"3"}`),
	}
	err := ingestBatch(ctx, ts.client(), events)
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Errorf("err = %v, want 1 of 3 events failed", err)
	}

	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal([]byte(ts.recorded()[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if len(body.Events) != 3 {
		t.Errorf("sent %d events, want 3", len(body.Events))
	}
}

func TestCheckEvents(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`[{"source_type":"slack","source_id":"s-1","channel_name":"eng","user_name":"bob","text":"hi"}]`), 0o644)
	var out bytes.Buffer
	prev := msgOut
	msgOut = &out
	t.Cleanup(func() { msgOut = prev })

	if err := checkEvents(good); err != nil {
		t.Errorf("checkEvents(good): %v", err)
	}
	if !strings.Contains(out.String(), "1 events are valid") {
		t.Errorf("output = %q", out.String())
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`[{"source_type":"fax","source_id":"1"}]`), 0o644)
	if err := checkEvents(bad); err == nil || !strings.Contains(err.Error(), "event 0") {
		t.Errorf("err = %v, want event 0 failure", err)
	}
}

func TestIngestBatch_Chunks(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/contexts/batch": `{"count":0,"results":[]}`,
	})

	events := make([]json.RawMessage, batchChunk+1)
	for i := range events {
		events[i] = json.RawMessage(`{}`)
	}
	if err := ingestBatch(ctx, ts.client(), events); err != nil {
		t.Fatalf("ingestBatch: %v", err)
	}
	if n := len(ts.recorded()); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestEventEnvelope(t *testing.T) {
	env, err := eventEnvelope("slack", map[string]string{"source_id": "1718", "text": "hi"})
	if err != nil {
		t.Fatalf("eventEnvelope: %v", err)
	}
	if env["source_type"] != "slack" || env["source_id"] != "1718" {
		t.Errorf("envelope = %v", env)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" alice , bob,,carol ")
	if strings.Join(got, "|") != "alice|bob|carol" {
		t.Errorf("splitList = %q", got)
	}
	if splitList("") != nil {
		t.Error("empty input should give nil")
	}
}

func TestActionsQuery(t *testing.T) {
	tests := []struct {
		status, typ, source string
		limit               int
		want                string
	}{
		{"", "", "", 0, "/v1/actions"},
		{"pending", "", "", 0, "/v1/actions?status=pending"},
		{"error", "create_todo", "slack", 10, "/v1/actions?limit=10&source_type=slack&status=error&type=create_todo"},
	}
	for _, tt := range tests {
		if got := actionsQuery(tt.status, tt.typ, tt.source, tt.limit); got != tt.want {
			t.Errorf("actionsQuery(%q,%q,%q,%d) = %q, want %q", tt.status, tt.typ, tt.source, tt.limit, got, tt.want)
		}
	}
}

func TestParseActionID(t *testing.T) {
	if id, err := parseActionID("#42"); err != nil || id != 42 {
		t.Errorf("parseActionID(#42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "0", "-3"} {
		if _, err := parseActionID(bad); err == nil {
			t.Errorf("parseActionID(%q) should fail", bad)
		}
	}
}

func TestActionsApprove_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/actions/7/approve": `{"id":7,"status":"error","type":"gmail_send_email","result":{"error":"smtp down"}}`,
	})
	useClient(t, ts)

	err := runCLI(t, "actions", "approve", "7")
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Errorf("err = %v, want action failure", err)
	}
}

func TestActionsSkip(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/actions/3/skip": `{"id":3,"status":"skipped"}`,
	})
	useClient(t, ts)

	if err := runCLI(t, "actions", "skip", "3"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if r := ts.recorded()[0]; r.Method != http.MethodPost || r.Path != "/v1/actions/3/skip" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
}

func TestActionsEdit_WithPayloadFlag(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/actions/5":   `{"id":5,"status":"pending","type":"create_todo","payload":{"title":"old"}}`,
		"PATCH /v1/actions/5": `{"id":5,"status":"pending","type":"create_todo","payload":{"title":"new"}}`,
	})
	useClient(t, ts)

	if err := runCLI(t, "actions", "edit", "5", "--payload", `{"title":"new"}`); err != nil {
		t.Fatalf("edit: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	var body struct {
		Payload map[string]string `json:"payload"`
	}
	json.Unmarshal([]byte(reqs[1].Body), &body)
	if body.Payload["title"] != "new" {
		t.Errorf("patched payload = %v", body.Payload)
	}
}

func TestActionsEdit_RejectsNonPending(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/actions/5": `{"id":5,"status":"executed","type":"create_todo","payload":{}}`,
	})
	useClient(t, ts)

	err := runCLI(t, "actions", "edit", "5", "--payload", `{}`)
	if err == nil || !strings.Contains(err.Error(), "only pending") {
		t.Errorf("err = %v, want pending-only error", err)
	}
}

func TestReviewActions(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/actions/1/approve": `{"id":1,"status":"executed"}`,
		"POST /v1/actions/2/skip":    `{"id":2,"status":"skipped"}`,
		"PATCH /v1/actions/3":        `{"id":3,"status":"pending","payload":{"title":"edited"}}`,
	})

	pending := []api.ActionView{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	script := []string{choiceApprove, choiceSkip, choiceEdit, choiceNext, choiceQuit}
	var seen []int64
	choose := func(a api.ActionView, position, total int) (string, json.RawMessage, error) {
		seen = append(seen, a.ID)
		choice := script[0]
		script = script[1:]
		if choice == choiceEdit {
			return choice, json.RawMessage(`{"title":"edited"}`), nil
		}
		return choice, nil, nil
	}

	if err := reviewActions(ctx, ts.client(), pending, choose); err != nil {
		t.Fatalf("reviewActions: %v", err)
	}

	// The edited action is shown again before moving on.
	want := []int64{1, 2, 3, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
	if n := len(ts.recorded()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestReviewActions_ChooserError(t *testing.T) {
	ts := newTestServer(t, nil)
	boom := errors.New("tty gone")
	choose := func(api.ActionView, int, int) (string, json.RawMessage, error) {
		return "", nil, boom
	}
	if err := reviewActions(ctx, ts.client(), []api.ActionView{{ID: 1}}, choose); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestSearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/contexts/similar": `[{"id":"c1","source_type":"gmail","context_text":"[EMAIL] Thursday","timestamp":"2026-03-02T10:00:00Z","similarity_score":0.91}]`,
	})
	useClient(t, ts)

	if err := runCLI(t, "search", "Thursday", "meeting", "--limit", "3"); err != nil {
		t.Fatalf("search: %v", err)
	}
	var body map[string]any
	json.Unmarshal([]byte(ts.recorded()[0].Body), &body)
	if body["text"] != "Thursday meeting" {
		t.Errorf("text = %v, want joined args", body["text"])
	}
	if body["limit"] != float64(3) {
		t.Errorf("limit = %v, want 3", body["limit"])
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/actions/9/skip": `409 {"error":{"message":"action 9 is executing","type":"conflict_error"}}`,
	})

	resp, err := ts.client().post(ctx, "/v1/actions/9/skip", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	err = decodeJSON(resp, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Type != "conflict_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "executing") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.client().get(ctx, "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var apiErr *apiError
	if err := decodeJSON(resp, nil); !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Errorf("err = %v, want 404 apiError", err)
	}
}
