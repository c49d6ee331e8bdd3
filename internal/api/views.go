package api

import (
	"encoding/json"
	"time"

	"github.com/esiebomaj/commander/internal/storage"
)

// ContextView is the JSON form of a stored context.
type ContextView struct {
	ID          string          `json:"id"`
	SourceType  string          `json:"source_type"`
	SourceID    string          `json:"source_id"`
	Sender      string          `json:"sender,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	ContextText string          `json:"context_text"`
	Content     json.RawMessage `json:"content,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	CreatedAt   time.Time       `json:"created_at"`
	Embedded    bool            `json:"embedded"`
	Processed   bool            `json:"processed"`
	Actions     []ActionView    `json:"actions,omitempty"`
}

// ActionView is the JSON form of a proposed action.
type ActionView struct {
	ID         int64           `json:"id"`
	ContextID  string          `json:"context_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Confidence float64         `json:"confidence"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Anomaly    string          `json:"anomaly,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	SourceType string          `json:"source_type"`
	Sender     string          `json:"sender,omitempty"`
	Summary    string          `json:"summary,omitempty"`
}

func NewContextView(c storage.Context) ContextView {
	content := c.Content
	if len(content) == 0 {
		content = nil
	}
	return ContextView{
		ID:          c.ID,
		SourceType:  string(c.SourceType),
		SourceID:    c.SourceID,
		Sender:      c.Sender,
		Summary:     c.Summary,
		ContextText: c.Text,
		Content:     content,
		Timestamp:   c.Timestamp,
		CreatedAt:   c.CreatedAt,
		Embedded:    c.Embedded(),
		Processed:   c.Processed(),
	}
}

func NewActionView(a storage.Action) ActionView {
	result := a.Result
	if len(result) == 0 {
		result = nil
	}
	return ActionView{
		ID:         a.ID,
		ContextID:  a.ContextID,
		Type:       string(a.Type),
		Payload:    a.Payload,
		Confidence: a.Confidence,
		Status:     string(a.Status),
		Result:     result,
		Anomaly:    a.Anomaly,
		Attempts:   a.Attempts,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
		SourceType: string(a.SourceType),
		Sender:     a.Sender,
		Summary:    a.Summary,
	}
}

func actionViews(list []storage.Action) []ActionView {
	out := make([]ActionView, len(list))
	for i, a := range list {
		out[i] = NewActionView(a)
	}
	return out
}
