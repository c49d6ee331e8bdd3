package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/esiebomaj/commander/internal/storage"
	"github.com/esiebomaj/commander/internal/textutil"
)

// Notifier announces newly proposed actions.
type Notifier interface {
	NotifyNewAction(ctx context.Context, a storage.Action) error
}

// Notification is the push-style message sent for a new action.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Tag   string `json:"tag"`
}

// NewNotification builds the message for a.
func NewNotification(a storage.Action) Notification {
	body := textutil.Preview(a.Summary, 120)
	if body == "" {
		body = fmt.Sprintf("A new %s action needs your review.", strings.ReplaceAll(string(a.Type), "_", " "))
	}
	return Notification{
		Title: "New Action Proposed",
		Body:  body,
		URL:   fmt.Sprintf("/actions?edit=%d", a.ID),
		Tag:   "new-action",
	}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyNewAction(_ context.Context, a storage.Action) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	msg := NewNotification(a)
	l.Info("new action proposed", "action_id", a.ID, "type", a.Type, "context_id", a.ContextID, "body", msg.Body)
	return nil
}

// WebhookNotifier posts the notification JSON to a push relay.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{}}
}

func (n *WebhookNotifier) NotifyNewAction(ctx context.Context, a storage.Action) error {
	body, err := json.Marshal(NewNotification(a))
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiNotifier fans a notification out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyNewAction(ctx context.Context, a storage.Action) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyNewAction(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
