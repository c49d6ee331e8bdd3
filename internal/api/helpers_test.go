package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/esiebomaj/commander/internal/actions"
	"github.com/esiebomaj/commander/internal/decision"
	"github.com/esiebomaj/commander/internal/pipeline"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockPipeline struct {
	store    *storage.Store
	submitFn func(ctx context.Context, c storage.Context) (pipeline.Saved, error)
	batchFn  func(ctx context.Context, items []storage.Context, workers int) []pipeline.BatchOutcome
}

// Submit saves the context directly unless submitFn is set.
func (m *mockPipeline) Submit(ctx context.Context, c storage.Context) (pipeline.Saved, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, c)
	}
	saved, err := m.store.SaveContext(ctx, c)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, err := m.store.GetContextBySource(ctx, c.SourceType, c.SourceID)
		return pipeline.Saved{Context: existing, Duplicate: true}, err
	}
	return pipeline.Saved{Context: saved}, err
}

func (m *mockPipeline) IngestBatch(ctx context.Context, items []storage.Context, workers int) []pipeline.BatchOutcome {
	if m.batchFn != nil {
		return m.batchFn(ctx, items, workers)
	}
	out := make([]pipeline.BatchOutcome, len(items))
	for i, c := range items {
		saved, err := m.Submit(ctx, c)
		out[i] = pipeline.BatchOutcome{Index: i, Ingested: pipeline.Ingested{Saved: saved}, Err: err}
	}
	return out
}

type mockSearcher struct {
	searchFn func(ctx context.Context, text string, k int, filter *retrieval.Filter) ([]retrieval.ScoredPoint, error)
}

func (m *mockSearcher) Search(ctx context.Context, text string, k int, filter *retrieval.Filter) ([]retrieval.ScoredPoint, error) {
	return m.searchFn(ctx, text, k, filter)
}

type mockExecutor struct {
	execFn func(ctx context.Context, t storage.ActionType, payload json.RawMessage) (actions.Outcome, error)
}

func (m *mockExecutor) Execute(ctx context.Context, t storage.ActionType, payload json.RawMessage) (actions.Outcome, error) {
	return m.execFn(ctx, t, payload)
}

type mockCounter struct {
	n   int
	err error
}

func (m mockCounter) Count(context.Context) (int, error) { return m.n, m.err }

// --- helpers ---

type testEnv struct {
	store     *storage.Store
	lifecycle *actions.Lifecycle
	pipeline  *mockPipeline
	searcher  *mockSearcher
	executor  *mockExecutor
	deps      Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	exec := &mockExecutor{execFn: func(context.Context, storage.ActionType, json.RawMessage) (actions.Outcome, error) {
		return actions.Outcome{Success: true, Detail: map[string]any{"message_id": "m-1"}}, nil
	}}
	l := actions.NewLifecycle(store, exec, actions.LogNotifier{}, actions.Config{})
	t.Cleanup(l.Wait)

	env := &testEnv{
		store:     store,
		lifecycle: l,
		pipeline:  &mockPipeline{store: store},
		searcher: &mockSearcher{searchFn: func(context.Context, string, int, *retrieval.Filter) ([]retrieval.ScoredPoint, error) {
			return nil, nil
		}},
		executor: exec,
	}
	env.deps = Deps{
		Pipeline:      env.pipeline,
		Contexts:      store,
		Actions:       l,
		Searcher:      env.searcher,
		Index:         mockCounter{n: 3},
		Stats:         store,
		Token:         testToken,
		VectorBackend: "sqlite",
	}
	return env
}

func (e *testEnv) handler() http.Handler { return NewHandler(e.deps) }

func (e *testEnv) saveContext(t *testing.T, sourceID, summary string) storage.Context {
	t.Helper()
	c, err := e.store.SaveContext(context.Background(), storage.Context{
		SourceType: storage.SourceGmail,
		SourceID:   sourceID,
		Sender:     "alice@example.com",
		Summary:    summary,
		Text:       "[EMAIL]\nSubject: " + summary,
		Timestamp:  time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SaveContext: %v", err)
	}
	return c
}

// propose stores a context with one pending email action.
func (e *testEnv) propose(t *testing.T, sourceID string) storage.Action {
	t.Helper()
	c := e.saveContext(t, sourceID, "Can we meet Thursday?")
	got, err := e.lifecycle.Propose(context.Background(), c.ID, []decision.Draft{{
		Type:       storage.ActionSendEmail,
		Payload:    decision.SendEmail{ToEmail: "alice@example.com", Subject: "Re: Thursday", Body: "Works for me."},
		Confidence: 0.9,
	}})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	return got[0]
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decodeBody(t, rr, &resp)
	return resp.Error.Type
}
