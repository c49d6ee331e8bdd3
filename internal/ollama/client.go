// Package ollama talks to a local Ollama server: schema-constrained chat for
// action decisions, batched embeddings for context vectors, and the model
// management needed to get a fresh install ready.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTruncated is returned when a chat reply stopped at the token limit.
// A cut-off structured reply cannot be parsed, so it is never returned as text.
var ErrTruncated = errors.New("reply truncated at token limit")

// Message is a chat message in Ollama's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusError is a non-200 reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama returned status %d", e.Code)
	}
	return fmt.Sprintf("ollama returned status %d: %s", e.Code, e.Message)
}

// IsModelNotFound reports whether err is the server's answer for a model that
// has not been pulled.
func IsModelNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keepAlive  string
}

// Option configures a Client.
type Option func(*Client)

// WithKeepAlive sets how long the server keeps a model loaded after a request.
// Bursts of incoming events then reuse the warm model.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.keepAlive = d.String()
		}
	}
}

// New creates a Client for the server at baseURL. Request deadlines come from
// the caller's context.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Version returns the server version from GET /api/version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &v); err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	return v.Version, nil
}

// IsRunning reports whether the server answers within two seconds.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Version(ctx)
	return err == nil
}

// ListModels returns the names of the locally pulled models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether name has been pulled. A name without a tag
// matches any tag of that model.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || (!strings.Contains(name, ":") && strings.HasPrefix(m, name+":")) {
			return true
		}
	}
	return false
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullModel downloads a model and reads the progress stream to the end.
// onProgress may be nil. An error line in the stream fails the pull.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := c.post(ctx, "/api/pull", map[string]any{"model": name, "stream": true})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", name, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("pulling model %s: %s", name, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

// ChatRequest is a non-streaming chat call.
type ChatRequest struct {
	Model    string
	Messages []Message
	// Format is "json" or a JSON schema value. Nil requests free text.
	Format any
	// Temperature overrides the model default when set.
	Temperature *float64
	// NumCtx sets the context window in tokens. Zero keeps the model default.
	NumCtx int
}

type chatBody struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	Format    any            `json:"format,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

// Chat returns the assistant reply for req.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body := chatBody{
		Model:     req.Model,
		Messages:  req.Messages,
		Format:    req.Format,
		KeepAlive: c.keepAlive,
	}
	if req.Temperature != nil || req.NumCtx > 0 {
		body.Options = map[string]any{}
		if req.Temperature != nil {
			body.Options["temperature"] = *req.Temperature
		}
		if req.NumCtx > 0 {
			body.Options["num_ctx"] = req.NumCtx
		}
	}

	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return "", fmt.Errorf("chat with %s: %w", req.Model, err)
	}
	defer resp.Body.Close()

	var out struct {
		Message    Message `json:"message"`
		DoneReason string  `json:"done_reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if out.DoneReason == "length" {
		return "", fmt.Errorf("chat with %s: %w", req.Model, ErrTruncated)
	}
	return out.Message.Content, nil
}

type embedBody struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Truncate   bool     `json:"truncate"`
	Dimensions int      `json:"dimensions,omitempty"`
	KeepAlive  string   `json:"keep_alive,omitempty"`
}

// Embed embeds texts in one /api/embed call and returns vectors in input
// order. Inputs longer than the model window are truncated by the server.
// dimensions shortens the vectors of models that support it; zero keeps the
// native size.
func (c *Client) Embed(ctx context.Context, model string, texts []string, dimensions int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.post(ctx, "/api/embed", embedBody{
		Model:      model,
		Input:      texts,
		Truncate:   true,
		Dimensions: dimensions,
		KeepAlive:  c.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", model, err)
	}
	defer resp.Body.Close()

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do sends req and turns any non-200 reply into a *StatusError carrying the
// server's {"error": ...} message.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	se := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		se.Message = envelope.Error
	}
	return nil, se
}
