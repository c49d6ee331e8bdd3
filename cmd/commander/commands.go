package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/esiebomaj/commander/internal/api"
	"github.com/esiebomaj/commander/internal/config"
	"github.com/esiebomaj/commander/internal/ingest"
	"github.com/esiebomaj/commander/internal/storage"
)

const batchChunk = 100

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit events for processing",
	Long: `Submit events for processing.

Examples:
  commander ingest email --id msg-1 --from alice@example.com --subject "Sync" --body "Can we meet Thursday?"
  commander ingest slack --id 1718 --channel eng --user bob --text "deploy is blocked"
  commander ingest meeting --id mtg-7 --title "Planning" --pdf ./transcript.pdf
  commander ingest --file ./events.yaml
  commander ingest --file ./events.yaml --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return cmd.Help()
		}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			return checkEvents(file)
		}
		events, err := ingest.ReadEvents(file)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			printWarning("No events in %s", file)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return ingestBatch(cmd.Context(), client, events)
	},
}

// checkEvents decodes every event in path locally, the way the server would.
func checkEvents(path string) error {
	contexts, err := ingest.LoadEvents(path)
	if err != nil {
		return err
	}
	for _, c := range contexts {
		fmt.Printf("  %s %s  %s\n", colorize(colorDim, string(c.SourceType)), c.SourceID, oneLine(c.Summary, 70))
	}
	printSuccess("%d events are valid", len(contexts))
	return nil
}

type batchResult struct {
	Index   int              `json:"index"`
	ID      string           `json:"id"`
	Status  string           `json:"status"`
	Error   string           `json:"error"`
	Actions []api.ActionView `json:"actions"`
}

// ingestBatch posts events in chunks the server accepts and prints one line
// per event.
func ingestBatch(ctx context.Context, client *apiClient, events []json.RawMessage) error {
	var processed, duplicates, failed int
	for start := 0; start < len(events); start += batchChunk {
		end := min(start+batchChunk, len(events))
		printStep("Processing events %d-%d of %d...", start+1, end, len(events))

		resp, err := client.post(ctx, "/v1/contexts/batch", map[string]any{"events": events[start:end]})
		if err != nil {
			return err
		}
		var out struct {
			Results []batchResult `json:"results"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, r := range out.Results {
			n := start + r.Index + 1
			switch r.Status {
			case "processed":
				processed++
				fmt.Printf("%3d  %s  %s  %d action(s)\n", n, colorize(colorGreen, "processed"), r.ID, len(r.Actions))
				for _, a := range r.Actions {
					fmt.Printf("       #%d %s (%.2f)\n", a.ID, a.Type, a.Confidence)
				}
			case "duplicate":
				duplicates++
				fmt.Printf("%3d  %s  %s\n", n, colorize(colorDim, "duplicate"), r.ID)
			default:
				failed++
				fmt.Printf("%3d  %s  %s\n", n, colorize(colorRed, "error"), r.Error)
			}
		}
	}

	if failed > 0 {
		printWarning("%d processed, %d duplicate, %d failed", processed, duplicates, failed)
		return fmt.Errorf("%d of %d events failed", failed, len(events))
	}
	printSuccess("%d processed, %d duplicate", processed, duplicates)
	return nil
}

// submitEvent posts a single event envelope built from src.
func submitEvent(cmd *cobra.Command, st storage.SourceType, src any) error {
	envelope, err := eventEnvelope(st, src)
	if err != nil {
		return err
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), "/v1/contexts", envelope)
	if err != nil {
		return err
	}
	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if result.Status == "duplicate" {
		printWarning("Already ingested as %s", result.ID)
		return nil
	}
	printSuccess("Queued context %s", result.ID)
	return nil
}

// eventEnvelope adds source_type to the JSON form of a source event.
func eventEnvelope(st storage.SourceType, src any) (map[string]any, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	envelope["source_type"] = string(st)
	return envelope, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// flagTime parses an RFC3339 flag, defaulting to now.
func flagTime(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want RFC3339 time: %w", name, err)
	}
	return t, nil
}

// textArg reads a text flag, or a file when the value starts with "@".
func textArg(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if path, ok := strings.CutPrefix(v, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading --%s file: %w", name, err)
		}
		return string(data), nil
	}
	return v, nil
}

var ingestEmailCmd = &cobra.Command{
	Use:   "email",
	Short: "Submit an email",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		ts, err := flagTime(cmd, "time")
		if err != nil {
			return err
		}
		body, err := textArg(cmd, "body")
		if err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")
		subject, _ := cmd.Flags().GetString("subject")
		thread, _ := cmd.Flags().GetString("thread")
		return submitEvent(cmd, storage.SourceGmail, ingest.Email{
			ID: id, ThreadID: thread, FromEmail: from, Subject: subject, Body: body, ReceivedAt: ts,
		})
	},
}

var ingestSlackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Submit a Slack message",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		ts, err := flagTime(cmd, "time")
		if err != nil {
			return err
		}
		text, err := textArg(cmd, "text")
		if err != nil {
			return err
		}
		channel, _ := cmd.Flags().GetString("channel")
		user, _ := cmd.Flags().GetString("user")
		thread, _ := cmd.Flags().GetString("thread")
		return submitEvent(cmd, storage.SourceSlack, ingest.SlackMessage{
			ID: id, ChannelID: channel, ChannelName: channel, UserName: user, Text: text, ThreadTS: thread, Timestamp: ts,
		})
	},
}

var ingestMeetingCmd = &cobra.Command{
	Use:   "meeting",
	Short: "Submit a meeting transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		ts, err := flagTime(cmd, "time")
		if err != nil {
			return err
		}
		transcript, err := textArg(cmd, "transcript")
		if err != nil {
			return err
		}
		if pdfPath, _ := cmd.Flags().GetString("pdf"); pdfPath != "" {
			if transcript, err = ingest.TranscriptFromPDF(pdfPath); err != nil {
				return err
			}
		}
		if transcript == "" {
			return fmt.Errorf("one of --transcript or --pdf is required")
		}
		title, _ := cmd.Flags().GetString("title")
		participants, _ := cmd.Flags().GetString("participants")
		duration, _ := cmd.Flags().GetInt("duration")
		return submitEvent(cmd, storage.SourceMeeting, ingest.MeetingTranscript{
			ID: id, Title: title, Participants: splitList(participants), Transcript: transcript,
			MeetingTime: ts, DurationMins: duration,
		})
	},
}

var ingestCalendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Submit a calendar event",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		start, err := flagTime(cmd, "time")
		if err != nil {
			return err
		}
		end := start
		if v, _ := cmd.Flags().GetString("end"); v != "" {
			if end, err = flagTime(cmd, "end"); err != nil {
				return err
			}
		}
		description, err := textArg(cmd, "description")
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		attendees, _ := cmd.Flags().GetString("attendees")
		location, _ := cmd.Flags().GetString("location")
		return submitEvent(cmd, storage.SourceCalendar, ingest.CalendarEvent{
			ID: id, Title: title, Description: description, StartTime: start, EndTime: end,
			Attendees: splitList(attendees), Location: location,
		})
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "submit every event in a .json or .yaml file")
	ingestCmd.Flags().Bool("dry-run", false, "with --file, decode and print the events without submitting them")

	for _, c := range []*cobra.Command{ingestEmailCmd, ingestSlackCmd, ingestMeetingCmd, ingestCalendarCmd} {
		c.Flags().String("id", "", "source id, unique per source type")
		c.Flags().String("time", "", "event time in RFC3339 (default: now)")
		ingestCmd.AddCommand(c)
	}

	ingestEmailCmd.Flags().String("from", "", "sender address")
	ingestEmailCmd.Flags().String("subject", "", "subject line")
	ingestEmailCmd.Flags().String("body", "", "body text, or @path to read a file")
	ingestEmailCmd.Flags().String("thread", "", "thread id")

	ingestSlackCmd.Flags().String("channel", "", "channel name")
	ingestSlackCmd.Flags().String("user", "", "author name")
	ingestSlackCmd.Flags().String("text", "", "message text, or @path to read a file")
	ingestSlackCmd.Flags().String("thread", "", "thread timestamp")

	ingestMeetingCmd.Flags().String("title", "", "meeting title")
	ingestMeetingCmd.Flags().String("participants", "", "comma-separated participants")
	ingestMeetingCmd.Flags().String("transcript", "", "transcript text, or @path to read a file")
	ingestMeetingCmd.Flags().String("pdf", "", "read the transcript from a PDF")
	ingestMeetingCmd.Flags().Int("duration", 0, "duration in minutes")

	ingestCalendarCmd.Flags().String("title", "", "event title")
	ingestCalendarCmd.Flags().String("description", "", "description, or @path to read a file")
	ingestCalendarCmd.Flags().String("end", "", "end time in RFC3339 (default: start)")
	ingestCalendarCmd.Flags().String("attendees", "", "comma-separated attendees")
	ingestCalendarCmd.Flags().String("location", "", "location")
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Review proposed actions",
}

// actionsQuery builds the list query string from filter flags.
func actionsQuery(status, actionType, sourceType string, limit int) string {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if actionType != "" {
		q.Set("type", actionType)
	}
	if sourceType != "" {
		q.Set("source_type", sourceType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return "/v1/actions"
	}
	return "/v1/actions?" + q.Encode()
}

func listActions(ctx context.Context, client *apiClient, path string) ([]api.ActionView, error) {
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var list []api.ActionView
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func printActionLine(a api.ActionView) {
	fmt.Printf("%s  %-9s  %-20s  %.2f  %s\n",
		colorize(colorCyan, fmt.Sprintf("#%-5d", a.ID)),
		colorize(statusColor(a.Status), a.Status),
		a.Type,
		a.Confidence,
		oneLine(a.Summary, 60),
	)
}

func printAction(a api.ActionView) error {
	fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("Action #%d", a.ID)), colorize(statusColor(a.Status), a.Status))
	fmt.Printf("  Type:       %s\n", a.Type)
	fmt.Printf("  Confidence: %.2f\n", a.Confidence)
	fmt.Printf("  Source:     %s", a.SourceType)
	if a.Sender != "" {
		fmt.Printf(" from %s", a.Sender)
	}
	fmt.Println()
	if a.Summary != "" {
		fmt.Printf("  Summary:    %s\n", oneLine(a.Summary, 100))
	}
	if a.Anomaly != "" {
		fmt.Printf("  %s %s\n", colorize(colorYellow, "Anomaly:"), a.Anomaly)
	}
	fmt.Println("  Payload:")
	if err := printIndented(a.Payload); err != nil {
		return err
	}
	if len(a.Result) > 0 {
		fmt.Println("  Result:")
		return printIndented(a.Result)
	}
	return nil
}

func printIndented(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Printf("    %s\n", raw)
		return nil
	}
	data, err := json.MarshalIndent(v, "    ", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("    %s\n", data)
	return nil
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposed actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		actionType, _ := cmd.Flags().GetString("type")
		sourceType, _ := cmd.Flags().GetString("source-type")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		list, err := listActions(cmd.Context(), client, actionsQuery(status, actionType, sourceType, limit))
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No actions found.")
			return nil
		}
		for _, a := range list {
			printActionLine(a)
		}
		return nil
	},
}

func getAction(ctx context.Context, client *apiClient, id string) (api.ActionView, error) {
	var a api.ActionView
	resp, err := client.get(ctx, "/v1/actions/"+url.PathEscape(id))
	if err != nil {
		return a, err
	}
	err = decodeJSON(resp, &a)
	return a, err
}

var actionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one action with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := getAction(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		return printAction(a)
	},
}

// actionCall posts to an action endpoint and returns the updated action.
func actionCall(ctx context.Context, client *apiClient, id int64, verb string) (api.ActionView, error) {
	var a api.ActionView
	resp, err := client.post(ctx, fmt.Sprintf("/v1/actions/%d/%s", id, verb), nil)
	if err != nil {
		return a, err
	}
	err = decodeJSON(resp, &a)
	return a, err
}

// reportApproval prints the outcome of an approve. Executor failures come
// back as an action in the error status.
func reportApproval(a api.ActionView) error {
	if a.Status == string(storage.StatusError) {
		printError("Action #%d failed", a.ID)
		printIndented(a.Result)
		return fmt.Errorf("action #%d failed", a.ID)
	}
	printSuccess("Action #%d %s", a.ID, a.Status)
	return nil
}

func parseActionID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid action id %q", s)
	}
	return id, nil
}

var actionsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve and execute an action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseActionID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := actionCall(cmd.Context(), client, id, "approve")
		if err != nil {
			return err
		}
		return reportApproval(a)
	},
}

var actionsSkipCmd = &cobra.Command{
	Use:   "skip <id>",
	Short: "Dismiss an action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseActionID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := actionCall(cmd.Context(), client, id, "skip")
		if err != nil {
			return err
		}
		printSuccess("Action #%d %s", a.ID, a.Status)
		return nil
	},
}

// editPayload opens payload in $EDITOR and returns the edited JSON.
func editPayload(payload json.RawMessage) (json.RawMessage, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}

	tmpFile, err := os.CreateTemp("", "commander-action-*.json")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return nil, err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editor, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return nil, fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, err
	}
	if !json.Valid(edited) {
		return nil, fmt.Errorf("invalid JSON in edited payload")
	}
	return json.RawMessage(edited), nil
}

func patchPayload(ctx context.Context, client *apiClient, id int64, payload json.RawMessage) (api.ActionView, error) {
	var a api.ActionView
	resp, err := client.patch(ctx, fmt.Sprintf("/v1/actions/%d", id), map[string]json.RawMessage{"payload": payload})
	if err != nil {
		return a, err
	}
	err = decodeJSON(resp, &a)
	return a, err
}

var actionsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a pending action's payload in $EDITOR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseActionID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := getAction(cmd.Context(), client, strconv.FormatInt(id, 10))
		if err != nil {
			return err
		}
		if a.Status != string(storage.StatusPending) {
			return fmt.Errorf("action #%d is %s, only pending actions can be edited", a.ID, a.Status)
		}

		payload, _ := cmd.Flags().GetString("payload")
		var edited json.RawMessage
		if payload != "" {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			edited = json.RawMessage(payload)
		} else if edited, err = editPayload(a.Payload); err != nil {
			return err
		}

		if _, err := patchPayload(cmd.Context(), client, id, edited); err != nil {
			return err
		}
		printSuccess("Action #%d updated", id)
		return nil
	},
}

func init() {
	actionsListCmd.Flags().String("status", "", "filter by status (pending, executed, skipped, error)")
	actionsListCmd.Flags().String("type", "", "filter by action type")
	actionsListCmd.Flags().String("source-type", "", "filter by source type")
	actionsListCmd.Flags().Int("limit", 50, "maximum number of actions")
	actionsEditCmd.Flags().String("payload", "", "replacement payload JSON (skips the editor)")

	actionsCmd.AddCommand(actionsListCmd)
	actionsCmd.AddCommand(actionsShowCmd)
	actionsCmd.AddCommand(actionsApproveCmd)
	actionsCmd.AddCommand(actionsSkipCmd)
	actionsCmd.AddCommand(actionsEditCmd)
	actionsCmd.AddCommand(actionsReviewCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find stored contexts similar to text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sourceType, _ := cmd.Flags().GetString("source-type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{"text": strings.Join(args, " "), "limit": limit}
		if sourceType != "" {
			body["source_type"] = sourceType
		}
		resp, err := client.post(cmd.Context(), "/v1/contexts/similar", body)
		if err != nil {
			return err
		}

		var results []api.SimilarResult
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No similar contexts found.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("\n%s [score: %.3f] %s %s\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.SimilarityScore, r.SourceType, colorize(colorDim, r.Timestamp))
			if r.Sender != "" {
				fmt.Printf("  From: %s\n", r.Sender)
			}
			if r.Summary != "" {
				fmt.Printf("  %s\n", oneLine(r.Summary, 100))
			}
			fmt.Printf("  %s\n", oneLine(r.ContextText, 300))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
	searchCmd.Flags().String("source-type", "", "only search one source type")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Show the effective configuration. Values that differ from the defaults are marked with *.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", colorize(colorDim, "#"), colorize(colorDim, config.ConfigLocation()))
		for _, k := range config.ShowAll(cfg) {
			mark := " "
			if k.Overridden {
				mark = colorize(colorYellow, "*")
			}
			fmt.Printf(" %s %s = %s  %s\n", mark, colorize(colorBold, k.Key), k.Value,
				colorize(colorDim, k.Type+", "+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  ") +
		"\n\nopenai.api_key and anthropic.api_key are stored in the OS keyring.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if strings.HasSuffix(key, ".api_key") {
			printSuccess("Stored %s in the keyring", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
