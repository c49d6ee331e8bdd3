package decision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/esiebomaj/commander/internal/storage"
)

// mockReasoner implements Reasoner for testing.
type mockReasoner struct {
	decideFn func(ctx context.Context, p Prompt) (RawOutput, error)
	last     Prompt
}

func (m *mockReasoner) Decide(ctx context.Context, p Prompt) (RawOutput, error) {
	m.last = p
	return m.decideFn(ctx, p)
}

func replying(out string) *mockReasoner {
	return &mockReasoner{decideFn: func(context.Context, Prompt) (RawOutput, error) {
		return RawOutput(out), nil
	}}
}

var emailContext = storage.Context{
	ID:         "ctx-1",
	SourceType: storage.SourceGmail,
	Text:       "[EMAIL]\nFrom: alice@example.com\nSubject: Thursday 3pm?",
	Content:    []byte(`{"from_email":"alice@example.com","thread_id":"t-9"}`),
}

func TestDecide_ValidReply(t *testing.T) {
	r := replying(`{"actions":[{"type":"schedule_meeting","payload":{"meeting_title":"Sync","meeting_description":"Thursday","meeting_time":"2024-05-02T15:00:00Z"},"confidence":0.9}]}`)
	drafts := NewEngine(r, Config{}).Decide(context.Background(), emailContext, nil)

	if len(drafts) != 1 || drafts[0].Type != storage.ActionScheduleMeeting {
		t.Fatalf("drafts = %+v", drafts)
	}
	if !strings.Contains(r.last.User, "Thursday 3pm?") {
		t.Error("prompt did not include the current context")
	}
}

func TestDecide_RepliesToSender(t *testing.T) {
	r := replying(`[{"type":"gmail_send_email","payload":{"subject":"Re: Thursday","body":"Yes"},"confidence":0.8}]`)
	drafts := NewEngine(r, Config{}).Decide(context.Background(), emailContext, nil)

	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if p := drafts[0].Payload.(SendEmail); p.ToEmail != "alice@example.com" || p.ThreadID != "t-9" {
		t.Errorf("payload = %+v", p)
	}
}

// fastRetry keeps retry pauses short in tests.
var fastRetry = Config{RetryBackoff: time.Millisecond}

func TestDecide_ReasonerErrorDegrades(t *testing.T) {
	calls := 0
	r := &mockReasoner{decideFn: func(context.Context, Prompt) (RawOutput, error) {
		calls++
		return "", errors.New("connection refused")
	}}
	drafts := NewEngine(r, fastRetry).Decide(context.Background(), emailContext, nil)

	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	d := drafts[0]
	if d.Type != storage.ActionNoAction || d.Confidence != 0 {
		t.Errorf("draft = %+v, want no_action with confidence 0", d)
	}
	if !strings.Contains(d.Anomaly, "connection refused") {
		t.Errorf("Anomaly = %q", d.Anomaly)
	}
	if calls != defaultDecideAttempts {
		t.Errorf("reasoner called %d times, want %d", calls, defaultDecideAttempts)
	}
}

func TestDecide_RetriesThenSucceeds(t *testing.T) {
	tests := []struct {
		name  string
		first func() (RawOutput, error)
	}{
		{"reasoner error", func() (RawOutput, error) { return "", errors.New("connection reset") }},
		{"unparseable reply", func() (RawOutput, error) { return "Let me think about that.", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			r := &mockReasoner{decideFn: func(context.Context, Prompt) (RawOutput, error) {
				calls++
				if calls == 1 {
					return tt.first()
				}
				return `[{"type":"gmail_send_email","payload":{"subject":"Re: Thursday","body":"Works for me"},"confidence":0.7}]`, nil
			}}
			drafts := NewEngine(r, fastRetry).Decide(context.Background(), emailContext, nil)

			if calls != 2 {
				t.Errorf("reasoner called %d times, want 2", calls)
			}
			if len(drafts) != 1 || drafts[0].Type != storage.ActionSendEmail {
				t.Fatalf("drafts = %+v, want one gmail_send_email", drafts)
			}
			if drafts[0].Anomaly != "" {
				t.Errorf("Anomaly = %q, want none", drafts[0].Anomaly)
			}
		})
	}
}

func TestDecide_RetryStopsAtTimeout(t *testing.T) {
	calls := 0
	r := &mockReasoner{decideFn: func(context.Context, Prompt) (RawOutput, error) {
		calls++
		return "", errors.New("overloaded")
	}}
	cfg := Config{Timeout: 20 * time.Millisecond, MaxAttempts: 10, RetryBackoff: time.Second}
	start := time.Now()
	drafts := NewEngine(r, cfg).Decide(context.Background(), emailContext, nil)

	if time.Since(start) > 900*time.Millisecond {
		t.Error("retry pause outlived the decision timeout")
	}
	if calls != 1 {
		t.Errorf("reasoner called %d times, want 1", calls)
	}
	if len(drafts) != 1 || drafts[0].Type != storage.ActionNoAction {
		t.Errorf("drafts = %+v", drafts)
	}
}

func TestDecide_TimeoutDegrades(t *testing.T) {
	r := &mockReasoner{decideFn: func(ctx context.Context, _ Prompt) (RawOutput, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	start := time.Now()
	drafts := NewEngine(r, Config{Timeout: 10 * time.Millisecond}).Decide(context.Background(), emailContext, nil)

	if time.Since(start) > 2*time.Second {
		t.Error("decision timeout not applied")
	}
	if len(drafts) != 1 || !strings.Contains(drafts[0].Anomaly, "deadline exceeded") {
		t.Errorf("drafts = %+v", drafts)
	}
}

func TestDecide_NonJSONDegrades(t *testing.T) {
	drafts := NewEngine(replying("Sure! I'd reply to Alice."), fastRetry).Decide(context.Background(), emailContext, nil)
	if len(drafts) != 1 || drafts[0].Type != storage.ActionNoAction || drafts[0].Anomaly == "" {
		t.Errorf("drafts = %+v", drafts)
	}
}

func TestDecide_EmptyList(t *testing.T) {
	drafts := NewEngine(replying(`{"actions":[]}`), Config{}).Decide(context.Background(), emailContext, nil)
	if len(drafts) != 0 {
		t.Errorf("drafts = %+v, want none", drafts)
	}
}
