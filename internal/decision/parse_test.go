package decision

import (
	"strings"
	"testing"

	"github.com/esiebomaj/commander/internal/storage"
)

func TestParse_ObjectEnvelope(t *testing.T) {
	raw := `{"actions":[
		{"type":"gmail_send_email","payload":{"to_email":"bob@example.com","subject":"Re: Thursday","body":"Works for me."},"confidence":0.85},
		{"type":"create_todo","payload":{"title":"Prepare agenda"}}
	]}`
	drafts, failures, err := Parse(raw, ReplyDefaults{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("unexpected failures: %v", failures)
	}
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if drafts[0].Type != storage.ActionSendEmail || drafts[0].Confidence != 0.85 {
		t.Errorf("drafts[0] = %+v", drafts[0])
	}
	if drafts[1].Confidence != defaultConfidence {
		t.Errorf("missing confidence = %v, want %v", drafts[1].Confidence, defaultConfidence)
	}
}

func TestParse_BareArrayAndFence(t *testing.T) {
	raw := "```json\n[{\"type\":\"no_action\",\"payload\":{\"reason\":\"newsletter\"},\"confidence\":0.9}]\n```"
	drafts, _, err := Parse(raw, ReplyDefaults{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Type != storage.ActionNoAction {
		t.Errorf("drafts = %+v", drafts)
	}
	if drafts[0].Payload.(NoAction).Reason != "newsletter" {
		t.Errorf("reason lost: %+v", drafts[0].Payload)
	}
}

func TestParse_UnknownTypeBecomesNoAction(t *testing.T) {
	drafts, failures, err := Parse(`{"actions":[{"type":"bogus","payload":{},"confidence":1.4}]}`, ReplyDefaults{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("unknown type should not be a validation failure: %v", failures)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	d := drafts[0]
	if d.Type != storage.ActionNoAction || d.Confidence != 0 {
		t.Errorf("draft = %+v, want no_action with confidence 0", d)
	}
	if d.Anomaly != `unknown action type "bogus"` {
		t.Errorf("Anomaly = %q", d.Anomaly)
	}
}

func TestParse_DropsInvalidKeepsRest(t *testing.T) {
	raw := `{"actions":[
		{"type":"gmail_send_email","payload":{"subject":"no recipient","body":"x"},"confidence":0.8},
		{"type":"create_todo","payload":{"title":"ok"},"confidence":0.6},
		"not an object"
	]}`
	drafts, failures, err := Parse(raw, ReplyDefaults{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Type != storage.ActionCreateTodo {
		t.Errorf("drafts = %+v, want only the todo", drafts)
	}
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
	if failures[0].Index != 0 || failures[0].Field != "to_email" {
		t.Errorf("failures[0] = %+v", failures[0])
	}
	if failures[1].Index != 2 {
		t.Errorf("failures[1].Index = %d, want 2", failures[1].Index)
	}
}

func TestParse_ClampsConfidence(t *testing.T) {
	drafts, _, err := Parse(`[
		{"type":"create_todo","payload":{"title":"a"},"confidence":1.4},
		{"type":"create_todo","payload":{"title":"b"},"confidence":-0.2}
	]`, ReplyDefaults{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if drafts[0].Confidence != 1 || drafts[1].Confidence != 0 {
		t.Errorf("confidences = %v, %v; want 1, 0", drafts[0].Confidence, drafts[1].Confidence)
	}
}

func TestParse_EmptyListIsValid(t *testing.T) {
	drafts, failures, err := Parse(`{"actions":[]}`, ReplyDefaults{})
	if err != nil || len(drafts) != 0 || len(failures) != 0 {
		t.Errorf("Parse = %v, %v, %v; want empty", drafts, failures, err)
	}
}

func TestParse_Unusable(t *testing.T) {
	for _, raw := range []string{"", "I think you should reply.", `{"result":[]}`, `{"actions":`} {
		if _, _, err := Parse(raw, ReplyDefaults{}); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", raw)
		}
	}
}

func TestParse_ReplyDefaults(t *testing.T) {
	drafts, failures, err := Parse(
		`[{"type":"gmail_send_email","payload":{"subject":"Re: hi","body":"Thanks"},"confidence":0.8}]`,
		ReplyDefaults{ToEmail: "alice@example.com", ThreadID: "t-1"},
	)
	if err != nil || len(failures) != 0 {
		t.Fatalf("Parse = %v, %v", failures, err)
	}
	p := drafts[0].Payload.(SendEmail)
	if p.ToEmail != "alice@example.com" || p.ThreadID != "t-1" {
		t.Errorf("payload = %+v, want reply to sender", p)
	}
}

func TestParse_ReplyDefaultsSkipDrafts(t *testing.T) {
	drafts, failures, err := Parse(
		`[{"type":"gmail_create_draft","payload":{"subject":"Re: hi","body":"Thanks"},"confidence":0.8}]`,
		ReplyDefaults{ToEmail: "alice@example.com", ThreadID: "t-1"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 0 {
		t.Errorf("drafts = %+v, want the draft without a recipient dropped", drafts)
	}
	if len(failures) != 1 || failures[0].Type != storage.ActionCreateDraft {
		t.Errorf("failures = %v", failures)
	}
}

func TestDraft_NewAction(t *testing.T) {
	na, err := Draft{Type: storage.ActionCreateTodo, Payload: CreateTodo{Title: "x"}, Confidence: 0.5}.NewAction()
	if err != nil {
		t.Fatalf("NewAction: %v", err)
	}
	if !strings.Contains(string(na.Payload), `"title":"x"`) || na.Confidence != 0.5 {
		t.Errorf("NewAction = %+v", na)
	}
}
