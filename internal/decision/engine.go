package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/esiebomaj/commander/internal/history"
	"github.com/esiebomaj/commander/internal/storage"
)

const (
	defaultDecisionTimeout = 60 * time.Second
	defaultDecideAttempts  = 3
	defaultRetryBackoff    = 200 * time.Millisecond
)

// Engine proposes actions for a context. It never fails: reasoner problems
// turn into a single no_action draft with the failure as its anomaly.
type Engine struct {
	reasoner Reasoner
	prompts  *PromptBuilder
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// Config configures an Engine. Zero values select defaults.
type Config struct {
	// Timeout bounds the whole decision, retries included.
	Timeout time.Duration
	// MaxAttempts caps reasoner calls per decision. A call is retried when
	// it errors or its reply cannot be parsed.
	MaxAttempts int
	// RetryBackoff is the pause after the first failed call. It doubles
	// after every further failure.
	RetryBackoff     time.Duration
	MaxHistoryTokens int
	Logger           *slog.Logger
}

func NewEngine(r Reasoner, cfg Config) *Engine {
	e := &Engine{
		reasoner: r,
		prompts:  NewPromptBuilder(cfg.MaxHistoryTokens, nil),
		timeout:  cfg.Timeout,
		attempts: cfg.MaxAttempts,
		backoff:  cfg.RetryBackoff,
		logger:   cfg.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = defaultDecisionTimeout
	}
	if e.attempts <= 0 {
		e.attempts = defaultDecideAttempts
	}
	if e.backoff <= 0 {
		e.backoff = defaultRetryBackoff
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Decide returns the drafts for current given its history. An empty slice is
// a valid decision.
func (e *Engine) Decide(ctx context.Context, current storage.Context, hist []history.Entry) []Draft {
	prompt := e.prompts.Build(current, hist)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	drafts, failures, attempts, err := e.decideWithRetry(callCtx, prompt, replyDefaults(current))
	if err != nil {
		return e.fail(current, fmt.Errorf("after %d attempts: %w", attempts, err))
	}
	for _, f := range failures {
		e.logger.Warn("dropping proposed action", "context_id", current.ID, "error", f)
	}
	e.logger.Debug("decision complete",
		"context_id", current.ID,
		"drafts", len(drafts),
		"dropped", len(failures),
		"history", len(hist),
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return drafts
}

// decideWithRetry calls the reasoner until a reply parses, the attempts run
// out or ctx ends.
func (e *Engine) decideWithRetry(ctx context.Context, prompt Prompt, defaults ReplyDefaults) ([]Draft, []*ValidationFailure, int, error) {
	var lastErr error
	backoff := e.backoff
	attempt := 0
	for attempt < e.attempts {
		attempt++
		raw, err := e.reasoner.Decide(ctx, prompt)
		if err == nil {
			drafts, failures, perr := Parse(string(raw), defaults)
			if perr == nil {
				return drafts, failures, attempt, nil
			}
			err = perr
		}

		lastErr = err
		e.logger.Debug("decision attempt failed", "attempt", attempt, "error", err)
		if ctx.Err() != nil || attempt == e.attempts {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, nil, attempt, lastErr
}

func (e *Engine) fail(current storage.Context, err error) []Draft {
	df := &DecisionFailure{Err: err}
	e.logger.Warn("decision degraded to no_action", "context_id", current.ID, "error", df)
	return []Draft{failureDraft(df)}
}

// replyDefaults derives the reply address of an email context from its raw fields.
func replyDefaults(c storage.Context) ReplyDefaults {
	if c.SourceType != storage.SourceGmail {
		return ReplyDefaults{}
	}
	var fields struct {
		FromEmail string `json:"from_email"`
		ThreadID  string `json:"thread_id"`
	}
	_ = json.Unmarshal(c.Content, &fields)
	return ReplyDefaults{ToEmail: fields.FromEmail, ThreadID: fields.ThreadID}
}
