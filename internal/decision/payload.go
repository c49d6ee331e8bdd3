package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/esiebomaj/commander/internal/storage"
)

const defaultMeetingDuration = 30

// Payload is the typed body of an action. Each variant validates its own
// required fields.
type Payload interface {
	ActionType() storage.ActionType
	Validate() error
}

type SendEmail struct {
	ThreadID string   `json:"thread_id,omitempty"`
	ToEmail  string   `json:"to_email"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	CC       []string `json:"cc,omitempty"`
	BCC      []string `json:"bcc,omitempty"`
}

func (SendEmail) ActionType() storage.ActionType { return storage.ActionSendEmail }

func (p SendEmail) Validate() error {
	return requireFields(p.ActionType(), "to_email", p.ToEmail, "subject", p.Subject, "body", p.Body)
}

type CreateDraft struct {
	ThreadID string `json:"thread_id,omitempty"`
	ToEmail  string `json:"to_email"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

func (CreateDraft) ActionType() storage.ActionType { return storage.ActionCreateDraft }

func (p CreateDraft) Validate() error {
	return requireFields(p.ActionType(), "to_email", p.ToEmail, "subject", p.Subject, "body", p.Body)
}

type ScheduleMeeting struct {
	MeetingTitle       string   `json:"meeting_title"`
	MeetingDescription string   `json:"meeting_description"`
	MeetingTime        string   `json:"meeting_time"`
	DurationMins       int      `json:"duration_mins"`
	Attendees          []string `json:"attendees,omitempty"`
}

func (ScheduleMeeting) ActionType() storage.ActionType { return storage.ActionScheduleMeeting }

func (p ScheduleMeeting) Validate() error {
	if err := requireFields(p.ActionType(),
		"meeting_title", p.MeetingTitle,
		"meeting_description", p.MeetingDescription,
		"meeting_time", p.MeetingTime,
	); err != nil {
		return err
	}
	if p.DurationMins < 0 {
		return &ValidationFailure{Index: -1, Type: p.ActionType(), Field: "duration_mins", Reason: "must not be negative"}
	}
	return nil
}

type CreateTodo struct {
	Title   string `json:"title"`
	Notes   string `json:"notes,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

func (CreateTodo) ActionType() storage.ActionType { return storage.ActionCreateTodo }

func (p CreateTodo) Validate() error {
	return requireFields(p.ActionType(), "title", p.Title)
}

type NoAction struct {
	Reason string `json:"reason,omitempty"`
}

func (NoAction) ActionType() storage.ActionType { return storage.ActionNoAction }

func (NoAction) Validate() error { return nil }

// requireFields takes name/value pairs and reports the first blank value.
func requireFields(t storage.ActionType, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &ValidationFailure{Index: -1, Type: t, Field: pairs[i], Reason: "missing required field"}
		}
	}
	return nil
}

// DecodePayload parses raw into the variant for t, applies defaults and
// validates it. Empty or null raw is treated as an empty object.
func DecodePayload(t storage.ActionType, raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case storage.ActionSendEmail:
		var v SendEmail
		err = json.Unmarshal(trimmed, &v)
		p = v
	case storage.ActionCreateDraft:
		var v CreateDraft
		err = json.Unmarshal(trimmed, &v)
		p = v
	case storage.ActionScheduleMeeting:
		var v struct {
			ScheduleMeeting
			// Some models still emit the older field name.
			MeetingDate string `json:"meeting_date"`
		}
		err = json.Unmarshal(trimmed, &v)
		if v.MeetingTime == "" {
			v.MeetingTime = v.MeetingDate
		}
		if v.DurationMins == 0 {
			v.DurationMins = defaultMeetingDuration
		}
		p = v.ScheduleMeeting
	case storage.ActionCreateTodo:
		var v CreateTodo
		err = json.Unmarshal(trimmed, &v)
		p = v
	case storage.ActionNoAction:
		var v NoAction
		err = json.Unmarshal(trimmed, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	if err != nil {
		return nil, &ValidationFailure{Index: -1, Type: t, Reason: "malformed payload", Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload returns the canonical JSON form of p.
func EncodePayload(p Payload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.ActionType(), err)
	}
	return b, nil
}
