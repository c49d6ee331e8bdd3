package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a context with the same (source_type, source_id) exists.
	ErrDuplicate = errors.New("duplicate context")
	// ErrConflict is returned when a write is not allowed in the record's current state.
	ErrConflict = errors.New("conflict")
)

// SourceType identifies where a context came from.
type SourceType string

const (
	SourceGmail    SourceType = "gmail"
	SourceSlack    SourceType = "slack"
	SourceMeeting  SourceType = "meeting_transcript"
	SourceCalendar SourceType = "calendar_event"
)

// SourceTypes lists every valid SourceType.
var SourceTypes = []SourceType{SourceGmail, SourceSlack, SourceMeeting, SourceCalendar}

func (s SourceType) Valid() bool {
	for _, v := range SourceTypes {
		if s == v {
			return true
		}
	}
	return false
}

// Context is one ingested event. (SourceType, SourceID) is its idempotency key.
// Once embedded, only Summary may change.
type Context struct {
	ID          string
	SourceType  SourceType
	SourceID    string
	Sender      string
	Summary     string
	Text        string
	Content     json.RawMessage
	Timestamp   time.Time
	CreatedAt   time.Time
	Embedding   []float32
	EmbeddedAt  *time.Time
	ProcessedAt *time.Time
}

// Embedded reports whether the context's vector reached the index.
func (c Context) Embedded() bool { return c.EmbeddedAt != nil }

// Processed reports whether decision and proposal completed for the context.
func (c Context) Processed() bool { return c.ProcessedAt != nil }

// ActionType is the kind of automatable action.
type ActionType string

const (
	ActionSendEmail       ActionType = "gmail_send_email"
	ActionCreateDraft     ActionType = "gmail_create_draft"
	ActionScheduleMeeting ActionType = "schedule_meeting"
	ActionCreateTodo      ActionType = "create_todo"
	ActionNoAction        ActionType = "no_action"
)

// ActionTypes lists every valid ActionType.
var ActionTypes = []ActionType{ActionSendEmail, ActionCreateDraft, ActionScheduleMeeting, ActionCreateTodo, ActionNoAction}

func (t ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

const (
	StatusPending  ActionStatus = "pending"
	StatusExecuted ActionStatus = "executed"
	StatusSkipped  ActionStatus = "skipped"
	StatusError    ActionStatus = "error"
)

// ActionStatuses lists every valid ActionStatus.
var ActionStatuses = []ActionStatus{StatusPending, StatusExecuted, StatusSkipped, StatusError}

func (s ActionStatus) Valid() bool {
	for _, v := range ActionStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Action is a proposed action for a context. SourceType, Sender and Summary
// are joined from the owning context for previews.
type Action struct {
	ID         int64
	ContextID  string
	Type       ActionType
	Payload    json.RawMessage
	Confidence float64
	Status     ActionStatus
	Result     json.RawMessage
	Anomaly    string
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time

	SourceType SourceType
	Sender     string
	Summary    string
}

// NewAction is a validated draft to persist as pending.
type NewAction struct {
	Type       ActionType
	Payload    json.RawMessage
	Confidence float64
	Anomaly    string
}

// ActionFilter narrows ListActions. Zero fields match everything.
type ActionFilter struct {
	Status     ActionStatus
	SourceType SourceType
	Type       ActionType
	ContextID  string
	Limit      int
	Offset     int
}

// RecentFilter narrows ListRecentContexts.
type RecentFilter struct {
	ProcessedOnly bool
	SourceType    SourceType
	ExcludeIDs    []string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
