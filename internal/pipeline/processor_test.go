package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/esiebomaj/commander/internal/actions"
	"github.com/esiebomaj/commander/internal/decision"
	"github.com/esiebomaj/commander/internal/history"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

// --- mocks ---

type mockEmbedder struct {
	calls   atomic.Int32
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return keywordVector(text), nil
}

type mockReasoner struct {
	calls    atomic.Int32
	decideFn func(ctx context.Context, p decision.Prompt) (decision.RawOutput, error)
}

func (m *mockReasoner) Decide(ctx context.Context, p decision.Prompt) (decision.RawOutput, error) {
	m.calls.Add(1)
	return m.decideFn(ctx, p)
}

// flakyIndex fails Upsert while failUpserts is positive.
type flakyIndex struct {
	retrieval.VectorIndex
	failUpserts atomic.Int32
}

func (f *flakyIndex) Upsert(ctx context.Context, p retrieval.Point) error {
	if f.failUpserts.Add(-1) >= 0 {
		return retrieval.ErrIndexUnavailable
	}
	return f.VectorIndex.Upsert(ctx, p)
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, storage.ActionType, json.RawMessage) (actions.Outcome, error) {
	return actions.Outcome{Success: true}, nil
}

// --- helpers ---

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := []float32{0.1, 0, 0, 0}
	for i, w := range []string{"thursday", "invoice", "lunch"} {
		if strings.Contains(lower, w) {
			v[i+1] = 1
		}
	}
	return v
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type harness struct {
	store     *storage.Store
	index     *flakyIndex
	embedder  *mockEmbedder
	reasoner  *mockReasoner
	lifecycle *actions.Lifecycle
	proc      *Processor
}

const replyEmail = `{"actions":[{"type":"gmail_send_email","confidence":0.8,"payload":{"subject":"Re: Thursday","body":"Works for me."}}]}`

func newHarness(t *testing.T, reply string) *harness {
	t.Helper()
	h := &harness{
		store:    openTestStore(t),
		embedder: &mockEmbedder{},
		reasoner: &mockReasoner{decideFn: func(context.Context, decision.Prompt) (decision.RawOutput, error) {
			return decision.RawOutput(reply), nil
		}},
	}
	h.index = &flakyIndex{VectorIndex: retrieval.NewSQLiteIndex(h.store.DB())}
	h.lifecycle = actions.NewLifecycle(h.store, noopExecutor{}, nil, actions.Config{})
	assembler := history.NewAssembler(h.store, h.index, h.embedder)
	engine := decision.NewEngine(h.reasoner, decision.Config{})
	h.proc = NewProcessor(h.store, h.embedder, h.index, assembler, engine, h.lifecycle, Config{HistoryLimit: 4})
	return h
}

func email(sourceID, subject string) storage.Context {
	return storage.Context{
		SourceType: storage.SourceGmail,
		SourceID:   sourceID,
		Sender:     "alice@example.com",
		Summary:    subject,
		Text:       "[EMAIL]\nFrom: alice@example.com\nSubject: " + subject,
		Content:    json.RawMessage(`{"from_email":"alice@example.com","thread_id":"t-1"}`),
		Timestamp:  time.Now().UTC(),
	}
}

// --- tests ---

func TestIngest_EndToEnd(t *testing.T) {
	h := newHarness(t, replyEmail)
	ctx := context.Background()

	res, err := h.proc.Ingest(ctx, email("msg-1", "Can we meet Thursday at 3pm?"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Duplicate {
		t.Error("first ingest reported duplicate")
	}
	if len(res.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(res.Actions))
	}
	a := res.Actions[0]
	if a.Type != storage.ActionSendEmail || a.Status != storage.StatusPending {
		t.Errorf("action = %s/%s, want gmail_send_email/pending", a.Type, a.Status)
	}
	p, err := decision.DecodePayload(a.Type, a.Payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got := p.(decision.SendEmail).ToEmail; got != "alice@example.com" {
		t.Errorf("to_email = %q, want reply to sender", got)
	}

	c, err := h.store.GetContext(ctx, res.Context.ID)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if !c.Embedded() || !c.Processed() || len(c.Embedding) == 0 {
		t.Errorf("context embedded=%v processed=%v", c.Embedded(), c.Processed())
	}
	if n, _ := h.index.Count(ctx); n != 1 {
		t.Errorf("index count = %d, want 1", n)
	}
}

func TestIngest_DuplicateDoesNotReprocess(t *testing.T) {
	h := newHarness(t, replyEmail)
	ctx := context.Background()

	first, err := h.proc.Ingest(ctx, email("msg-1", "Thursday"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, err := h.proc.Ingest(ctx, email("msg-1", "Thursday"))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !second.Duplicate || second.Context.ID != first.Context.ID {
		t.Errorf("second ingest = %+v, want duplicate of %s", second.Saved, first.Context.ID)
	}
	if len(second.Actions) != 1 || second.Actions[0].ID != first.Actions[0].ID {
		t.Errorf("second ingest actions = %+v, want the existing action", second.Actions)
	}
	if h.reasoner.calls.Load() != 1 {
		t.Errorf("reasoner calls = %d, want 1", h.reasoner.calls.Load())
	}
	if n, _ := h.store.CountContexts(ctx); n != 1 {
		t.Errorf("contexts = %d, want 1", n)
	}
}

func TestProcess_EmbeddingFailureIsRetryable(t *testing.T) {
	h := newHarness(t, replyEmail)
	ctx := context.Background()
	down := true
	h.embedder.embedFn = func(_ context.Context, text string) ([]float32, error) {
		if down {
			return nil, retrieval.ErrEmbeddingUnavailable
		}
		return keywordVector(text), nil
	}

	res, err := h.proc.Ingest(ctx, email("msg-1", "Thursday"))
	var failure *IngestionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *IngestionFailure", err)
	}
	if failure.Stage != StageEmbed || !failure.Retryable() {
		t.Errorf("failure = %+v, want retryable embed failure", failure)
	}
	c, _ := h.store.GetContext(ctx, res.Context.ID)
	if c.Embedded() || c.Processed() {
		t.Error("context should stay unembedded and unprocessed")
	}
	if h.reasoner.calls.Load() != 0 {
		t.Error("reasoner should not run without an embedding")
	}

	down = false
	acts, err := h.proc.Process(ctx, res.Context.ID)
	if err != nil {
		t.Fatalf("Process retry: %v", err)
	}
	if len(acts) != 1 {
		t.Errorf("actions = %d, want 1", len(acts))
	}
}

func TestProcess_IndexFailureReusesStoredVector(t *testing.T) {
	h := newHarness(t, replyEmail)
	ctx := context.Background()
	h.index.failUpserts.Store(1)

	res, err := h.proc.Ingest(ctx, email("msg-1", "Thursday"))
	var failure *IngestionFailure
	if !errors.As(err, &failure) || failure.Stage != StageIndex {
		t.Fatalf("err = %v, want index failure", err)
	}
	c, _ := h.store.GetContext(ctx, res.Context.ID)
	if len(c.Embedding) == 0 || c.Embedded() {
		t.Fatalf("embedding stored=%v embedded=%v, want stored but not embedded", len(c.Embedding) > 0, c.Embedded())
	}

	if _, err := h.proc.Process(ctx, res.Context.ID); err != nil {
		t.Fatalf("Process retry: %v", err)
	}
	// Only the first run embeds the context; the assembler reuses the vector too.
	if got := h.embedder.calls.Load(); got != 1 {
		t.Errorf("embed calls = %d, want 1", got)
	}
}

func TestProcess_BogusActionBecomesNoAction(t *testing.T) {
	h := newHarness(t, `{"actions":[{"type":"bogus","confidence":1.4,"payload":{}}]}`)

	res, err := h.proc.Ingest(context.Background(), email("msg-1", "Thursday"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(res.Actions))
	}
	a := res.Actions[0]
	if a.Type != storage.ActionNoAction || a.Confidence != 0 || a.Anomaly == "" {
		t.Errorf("action = %s conf=%v anomaly=%q, want no_action/0/anomaly", a.Type, a.Confidence, a.Anomaly)
	}
}

func TestProcess_HistoryReachesPrompt(t *testing.T) {
	h := newHarness(t, replyEmail)
	ctx := context.Background()
	var lastUser string
	h.reasoner.decideFn = func(_ context.Context, p decision.Prompt) (decision.RawOutput, error) {
		lastUser = p.User
		return replyEmail, nil
	}

	if _, err := h.proc.Ingest(ctx, email("msg-1", "Lunch on Friday?")); err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	if _, err := h.proc.Ingest(ctx, email("msg-2", "Invoice for May")); err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if _, err := h.proc.Ingest(ctx, email("msg-3", "Lunch moved to noon")); err != nil {
		t.Fatalf("Ingest 3: %v", err)
	}
	if !strings.Contains(lastUser, "Lunch on Friday?") || !strings.Contains(lastUser, "Invoice for May") {
		t.Errorf("prompt lacks history:\n%s", lastUser)
	}
	if strings.Index(lastUser, "Lunch on Friday?") > strings.Index(lastUser, "Invoice for May") {
		t.Error("similar context should come before recent context")
	}
}

func TestIngestBatch_IsolatesFailures(t *testing.T) {
	h := newHarness(t, replyEmail)
	items := []storage.Context{
		email("msg-1", "Thursday"),
		{SourceType: "fax", SourceID: "x"},
		email("msg-2", "Invoice"),
	}

	out := h.proc.IngestBatch(context.Background(), items, 2)
	if len(out) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(out))
	}
	for i, o := range out {
		if o.Index != i {
			t.Errorf("outcome %d has index %d", i, o.Index)
		}
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Errorf("valid items failed: %v, %v", out[0].Err, out[2].Err)
	}
	if out[1].Err == nil {
		t.Error("invalid source type should fail")
	}
	if len(out[2].Actions) != 1 {
		t.Errorf("item 2 actions = %d, want 1", len(out[2].Actions))
	}
}

func TestSubmit_QueuesDeterministicJob(t *testing.T) {
	h := newHarness(t, replyEmail)
	ctx := context.Background()

	s, err := h.proc.Submit(ctx, email("msg-1", "Thursday"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, err := h.store.GetJob(ctx, ProcessJobID(s.Context.ID))
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != JobTypeProcess || job.Status != "pending" {
		t.Errorf("job = %s/%s", job.Type, job.Status)
	}

	again, err := h.proc.Submit(ctx, email("msg-1", "Thursday"))
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !again.Duplicate {
		t.Error("second submit should be a duplicate")
	}
	if h.reasoner.calls.Load() != 0 {
		t.Error("Submit must not process synchronously")
	}
}
