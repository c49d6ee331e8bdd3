package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/esiebomaj/commander/internal/history"
	"github.com/esiebomaj/commander/internal/storage"
	"github.com/esiebomaj/commander/internal/textutil"
)

const defaultMaxHistoryTokens = 6000

const (
	historyHeader = "=== RECENT HISTORY (for context) ==="
	actionsHeader = "----- ACTIONS TAKEN -----"
	historyFooter = "=== END HISTORY ==="
	currentHeader = "=== CURRENT INPUT (decide actions for this) ==="
)

const systemPrompt = `You are Commander, an executive assistant that triages work communications.

For the current input (an email, Slack message, meeting transcript or calendar event) decide which actions to propose:
- gmail_send_email: reply or send an email when a question or request clearly needs a response
- gmail_create_draft: prepare an email for the user to review before sending
- schedule_meeting: a call or meeting is requested or coordination needs one
- create_todo: follow-up is needed but nothing can be done right now
- no_action: the input is informational or already handled

Use the history to avoid repeating actions that were already proposed or taken.
Keep emails short and professional. Set confidence between 0.5 (unsure) and 0.95 (very sure).

Reply with a single JSON object and nothing else:
{"actions":[{"type":"<action type>","payload":{...},"confidence":0.8}]}

Payload fields:
- gmail_send_email: to_email, subject, body (required); thread_id, cc, bcc (optional)
- gmail_create_draft: to_email, subject, body (required); thread_id (optional)
- schedule_meeting: meeting_title, meeting_description, meeting_time as ISO 8601 (required); duration_mins, attendees (optional)
- create_todo: title (required); notes, due_date (optional)
- no_action: reason (optional)

An empty "actions" list is allowed.`

// Prompt is the reasoner input.
type Prompt struct {
	System string
	User   string
}

// PromptBuilder renders the current context and its history, keeping the
// history block under a token budget.
type PromptBuilder struct {
	maxHistoryTokens int
	tokenizer        textutil.Tokenizer
}

// NewPromptBuilder creates a PromptBuilder. A non-positive budget selects the default.
func NewPromptBuilder(maxHistoryTokens int, tok textutil.Tokenizer) *PromptBuilder {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = defaultMaxHistoryTokens
	}
	if tok == nil {
		tok = textutil.EstimateTokenizer{}
	}
	return &PromptBuilder{maxHistoryTokens: maxHistoryTokens, tokenizer: tok}
}

// Build returns the prompt for current. When the history does not fit the
// budget the oldest entries are dropped first; the remaining entries keep
// their order.
func (b *PromptBuilder) Build(current storage.Context, entries []history.Entry) Prompt {
	var sb strings.Builder

	if block := b.historyBlock(entries); block != "" {
		sb.WriteString(block)
		sb.WriteString("\n")
	}
	sb.WriteString(currentHeader)
	sb.WriteString("\n\n")
	sb.WriteString(current.Text)

	return Prompt{System: systemPrompt, User: sb.String()}
}

func (b *PromptBuilder) historyBlock(entries []history.Entry) string {
	if len(entries) == 0 {
		return ""
	}

	rendered := make([]string, len(entries))
	total := b.tokenizer.Count(historyHeader + historyFooter)
	for i, e := range entries {
		rendered[i] = formatEntry(e)
		total += b.tokenizer.Count(rendered[i])
	}

	// Drop oldest first until the block fits.
	byAge := make([]int, len(entries))
	for i := range byAge {
		byAge[i] = i
	}
	sort.SliceStable(byAge, func(i, j int) bool {
		return entries[byAge[i]].Context.Timestamp.Before(entries[byAge[j]].Context.Timestamp)
	})
	dropped := make(map[int]bool)
	for _, i := range byAge {
		if total <= b.maxHistoryTokens {
			break
		}
		dropped[i] = true
		total -= b.tokenizer.Count(rendered[i])
	}
	if len(dropped) == len(entries) {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(historyHeader)
	sb.WriteString("\n\n")
	for i, r := range rendered {
		if dropped[i] {
			continue
		}
		sb.WriteString(r)
	}
	sb.WriteString(historyFooter)
	sb.WriteString("\n")
	return sb.String()
}

func formatEntry(e history.Entry) string {
	var sb strings.Builder
	sb.WriteString(e.Context.Text)
	sb.WriteString("\n")
	sb.WriteString(actionsHeader)
	sb.WriteString("\n")
	if len(e.Actions) == 0 {
		sb.WriteString("None\n")
	}
	for _, a := range e.Actions {
		sb.WriteString(ActionLine(a))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

// ActionLine describes a stored action in one line for prompts and previews.
func ActionLine(a storage.Action) string {
	var fields map[string]any
	_ = json.Unmarshal(a.Payload, &fields)
	str := func(key, fallback string) string {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}

	var desc string
	switch a.Type {
	case storage.ActionSendEmail, storage.ActionCreateDraft:
		desc = fmt.Sprintf("%s to %s", a.Type, str("to_email", "unknown"))
	case storage.ActionScheduleMeeting:
		dur := "unknown"
		if v, ok := fields["duration_mins"].(float64); ok {
			dur = fmt.Sprintf("%d", int(v))
		}
		desc = fmt.Sprintf("%s: %s at %s (%s minutes)", a.Type, str("meeting_title", "meeting"), str("meeting_time", "unknown"), dur)
	case storage.ActionCreateTodo:
		desc = fmt.Sprintf("%s: %s", a.Type, str("title", "task"))
	default:
		desc = string(a.Type)
	}
	return fmt.Sprintf("  - %s (status: %s, confidence: %.2f)", desc, a.Status, a.Confidence)
}
