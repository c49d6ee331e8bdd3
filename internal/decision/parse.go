package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/esiebomaj/commander/internal/storage"
	"github.com/esiebomaj/commander/internal/textutil"
)

const defaultConfidence = 0.7

// Draft is a validated action proposal that has not been persisted yet.
type Draft struct {
	Type       storage.ActionType
	Payload    Payload
	Confidence float64
	Anomaly    string
}

// NewAction converts the draft into its storage form.
func (d Draft) NewAction() (storage.NewAction, error) {
	payload, err := EncodePayload(d.Payload)
	if err != nil {
		return storage.NewAction{}, err
	}
	return storage.NewAction{
		Type:       d.Type,
		Payload:    payload,
		Confidence: d.Confidence,
		Anomaly:    d.Anomaly,
	}, nil
}

// failureDraft is the single draft produced when the reasoner cannot be used.
func failureDraft(err error) Draft {
	return Draft{
		Type:       storage.ActionNoAction,
		Payload:    NoAction{Reason: "decision unavailable"},
		Confidence: 0,
		Anomaly:    err.Error(),
	}
}

// ReplyDefaults fill the recipient of a gmail_send_email that omits it, so a
// reply to an email goes back to its sender. Drafts are left as proposed.
type ReplyDefaults struct {
	ToEmail  string
	ThreadID string
}

func (d ReplyDefaults) apply(t storage.ActionType, raw json.RawMessage) json.RawMessage {
	if d.ToEmail == "" || t != storage.ActionSendEmail {
		return raw
	}
	fields := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			return raw
		}
	}
	if v, _ := fields["to_email"].(string); strings.TrimSpace(v) != "" {
		return raw
	}
	fields["to_email"] = d.ToEmail
	if v, _ := fields["thread_id"].(string); v == "" && d.ThreadID != "" {
		fields["thread_id"] = d.ThreadID
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}

type rawItem struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Confidence *float64        `json:"confidence"`
}

// Parse reads a reasoner reply. It accepts {"actions":[...]} or a bare array,
// optionally inside a markdown code fence. Items with an unknown type become
// no_action drafts carrying an anomaly; items with an invalid payload are
// dropped and reported. The error is non-nil only when the reply as a whole
// is not usable.
func Parse(raw string, defaults ReplyDefaults) ([]Draft, []*ValidationFailure, error) {
	body := bytes.TrimSpace([]byte(stripFence(raw)))
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("empty reply")
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, nil, fmt.Errorf("parsing action list: %w", err)
		}
	case '{':
		var env struct {
			Actions *[]json.RawMessage `json:"actions"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, nil, fmt.Errorf("parsing reply object: %w", err)
		}
		if env.Actions == nil {
			return nil, nil, fmt.Errorf("reply object has no \"actions\" field")
		}
		items = *env.Actions
	default:
		return nil, nil, fmt.Errorf("reply is not JSON: %q", textutil.Preview(string(body), 80))
	}

	drafts := make([]Draft, 0, len(items))
	var failures []*ValidationFailure
	for i, itemRaw := range items {
		var item rawItem
		if err := json.Unmarshal(itemRaw, &item); err != nil {
			failures = append(failures, &ValidationFailure{Index: i, Reason: "malformed item", Err: err})
			continue
		}

		t := storage.ActionType(item.Type)
		if !t.Valid() {
			drafts = append(drafts, Draft{
				Type:       storage.ActionNoAction,
				Payload:    NoAction{},
				Confidence: 0,
				Anomaly:    fmt.Sprintf("unknown action type %q", item.Type),
			})
			continue
		}

		p, err := DecodePayload(t, defaults.apply(t, item.Payload))
		if err != nil {
			var vf *ValidationFailure
			if !errors.As(err, &vf) {
				vf = &ValidationFailure{Type: t, Reason: "invalid payload", Err: err}
			}
			vf.Index = i
			failures = append(failures, vf)
			continue
		}

		conf := defaultConfidence
		if item.Confidence != nil {
			conf = clamp(*item.Confidence)
		}
		drafts = append(drafts, Draft{Type: t, Payload: p, Confidence: conf})
	}
	return drafts, failures, nil
}

func clamp(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
