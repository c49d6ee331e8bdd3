// Package ingest turns source events (emails, Slack messages, meeting
// transcripts, calendar events) into storage contexts with a uniform
// prompt-ready text.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/esiebomaj/commander/internal/storage"
	"github.com/esiebomaj/commander/internal/textutil"
)

const summaryChars = 120

// Source is an event that can become a context.
type Source interface {
	Context() (storage.Context, error)
}

type Email struct {
	ID         string    `json:"source_id" yaml:"source_id"`
	ThreadID   string    `json:"thread_id,omitempty" yaml:"thread_id"`
	FromEmail  string    `json:"from_email" yaml:"from_email"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body" yaml:"body"`
	ReceivedAt time.Time `json:"timestamp" yaml:"timestamp"`
	Labels     []string  `json:"labels,omitempty" yaml:"labels"`
}

// Context cleans the body and formats the email. The sender doubles as the
// default reply recipient, so from_email and thread_id are kept in content.
func (e Email) Context() (storage.Context, error) {
	if e.ID == "" {
		return storage.Context{}, missing(storage.SourceGmail, "source_id")
	}
	body := textutil.CleanEmailBody(e.Body)
	ts := orNow(e.ReceivedAt)

	var b strings.Builder
	b.WriteString("[EMAIL]\n")
	fmt.Fprintf(&b, "From: %s\n", e.FromEmail)
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	fmt.Fprintf(&b, "Received: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Body:\n%s", body)

	return build(storage.SourceGmail, e.ID, ts, e.FromEmail,
		oneLine(e.Subject+": "+textutil.Preview(body, summaryChars)), b.String(),
		map[string]any{
			"from_email": e.FromEmail,
			"subject":    e.Subject,
			"body_text":  body,
			"thread_id":  e.ThreadID,
			"labels":     e.Labels,
		})
}

type SlackMessage struct {
	ID          string    `json:"source_id" yaml:"source_id"`
	ChannelID   string    `json:"channel_id" yaml:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty" yaml:"channel_name"`
	UserID      string    `json:"user_id,omitempty" yaml:"user_id"`
	UserName    string    `json:"user_name" yaml:"user_name"`
	Text        string    `json:"text" yaml:"text"`
	ThreadTS    string    `json:"thread_ts,omitempty" yaml:"thread_ts"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

func (m SlackMessage) Context() (storage.Context, error) {
	if m.ID == "" {
		return storage.Context{}, missing(storage.SourceSlack, "source_id")
	}
	channel := m.ChannelName
	if channel == "" {
		channel = m.ChannelID
	}
	ts := orNow(m.Timestamp)

	var b strings.Builder
	b.WriteString("[SLACK MESSAGE]\n")
	fmt.Fprintf(&b, "Channel: %s\n", channel)
	fmt.Fprintf(&b, "From: %s\n", m.UserName)
	fmt.Fprintf(&b, "Time: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Message:\n%s", m.Text)

	return build(storage.SourceSlack, m.ID, ts, m.UserName,
		oneLine("["+channel+"] "+textutil.Preview(m.Text, summaryChars)), b.String(),
		map[string]any{
			"channel_id":   m.ChannelID,
			"channel_name": m.ChannelName,
			"user_id":      m.UserID,
			"user_name":    m.UserName,
			"message":      m.Text,
			"thread_ts":    m.ThreadTS,
		})
}

type MeetingTranscript struct {
	ID           string    `json:"source_id" yaml:"source_id"`
	Title        string    `json:"title" yaml:"title"`
	Participants []string  `json:"participants" yaml:"participants"`
	Transcript   string    `json:"transcript" yaml:"transcript"`
	MeetingTime  time.Time `json:"timestamp" yaml:"timestamp"`
	DurationMins int       `json:"duration_mins,omitempty" yaml:"duration_mins"`
}

func (m MeetingTranscript) Context() (storage.Context, error) {
	if m.ID == "" {
		return storage.Context{}, missing(storage.SourceMeeting, "source_id")
	}
	ts := orNow(m.MeetingTime)
	short := textutil.NameList(m.Participants, 3)
	duration := "unknown"
	if m.DurationMins > 0 {
		duration = fmt.Sprintf("%d minutes", m.DurationMins)
	}

	var b strings.Builder
	b.WriteString("[MEETING TRANSCRIPT]\n")
	fmt.Fprintf(&b, "Title: %s\n", m.Title)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(m.Participants, ", "))
	fmt.Fprintf(&b, "Time: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", duration)
	fmt.Fprintf(&b, "Transcript:\n%s", m.Transcript)

	return build(storage.SourceMeeting, m.ID, ts, short,
		fmt.Sprintf("Meeting: %s (%s)", m.Title, short), b.String(),
		map[string]any{
			"title":         m.Title,
			"participants":  m.Participants,
			"transcript":    m.Transcript,
			"duration_mins": m.DurationMins,
		})
}

type CalendarEvent struct {
	ID          string    `json:"source_id" yaml:"source_id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description"`
	StartTime   time.Time `json:"timestamp" yaml:"timestamp"`
	EndTime     time.Time `json:"end_time" yaml:"end_time"`
	Attendees   []string  `json:"attendees,omitempty" yaml:"attendees"`
	Location    string    `json:"location,omitempty" yaml:"location"`
}

func (e CalendarEvent) Context() (storage.Context, error) {
	if e.ID == "" {
		return storage.Context{}, missing(storage.SourceCalendar, "source_id")
	}
	start := orNow(e.StartTime)
	end := e.EndTime
	if end.IsZero() {
		end = start
	}
	short, all := "No attendees", "No attendees"
	if len(e.Attendees) > 0 {
		short = textutil.NameList(e.Attendees, 3)
		all = strings.Join(e.Attendees, ", ")
	}
	location := e.Location
	if location == "" {
		location = "Not specified"
	}

	var b strings.Builder
	b.WriteString("[CALENDAR EVENT]\n")
	fmt.Fprintf(&b, "Title: %s\n", e.Title)
	fmt.Fprintf(&b, "Time: %s - %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	fmt.Fprintf(&b, "Location: %s\n", location)
	fmt.Fprintf(&b, "Attendees: %s\n", all)
	fmt.Fprintf(&b, "Description:\n%s", e.Description)

	return build(storage.SourceCalendar, e.ID, start, short,
		fmt.Sprintf("Event: %s (%s)", e.Title, short), b.String(),
		map[string]any{
			"title":       e.Title,
			"description": e.Description,
			"start_time":  start.Format(time.RFC3339),
			"end_time":    end.Format(time.RFC3339),
			"attendees":   e.Attendees,
			"location":    e.Location,
		})
}

func build(st storage.SourceType, id string, ts time.Time, sender, summary, text string, content map[string]any) (storage.Context, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return storage.Context{}, fmt.Errorf("encoding %s content: %w", st, err)
	}
	return storage.Context{
		SourceType: st,
		SourceID:   id,
		Sender:     sender,
		Summary:    summary,
		Text:       text,
		Content:    raw,
		Timestamp:  ts.UTC(),
	}, nil
}

func missing(st storage.SourceType, field string) error {
	return fmt.Errorf("%s event: missing %s", st, field)
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
