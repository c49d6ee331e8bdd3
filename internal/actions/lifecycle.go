// Package actions owns the approval lifecycle of proposed actions:
// pending -> executed | skipped | error. Executors perform approved actions
// and notifiers announce new ones.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/esiebomaj/commander/internal/decision"
	"github.com/esiebomaj/commander/internal/storage"
)

var (
	// ErrInProgress is returned when another caller is executing the action.
	ErrInProgress = errors.New("action execution in progress")
	// ErrInvalidPayload is wrapped when an edited payload fails validation.
	ErrInvalidPayload = errors.New("invalid action payload")
)

const (
	defaultExecutorTimeout = 30 * time.Second
	defaultClaimTTL        = 10 * time.Minute
	notifyTimeout          = 5 * time.Second
)

// Store is the subset of storage.Store the lifecycle uses.
type Store interface {
	InsertActions(ctx context.Context, contextID string, drafts []storage.NewAction) ([]storage.Action, bool, error)
	GetAction(ctx context.Context, id int64) (storage.Action, error)
	ListActions(ctx context.Context, f storage.ActionFilter) ([]storage.Action, error)
	ClaimAction(ctx context.Context, id int64, staleBefore time.Time) (bool, error)
	CompleteAction(ctx context.Context, id int64, status storage.ActionStatus, result json.RawMessage) error
	SkipAction(ctx context.Context, id int64) (bool, error)
	UpdateActionPayload(ctx context.Context, id int64, payload json.RawMessage) error
}

// Config configures a Lifecycle. Zero values select defaults.
type Config struct {
	ExecutorTimeout time.Duration
	// ClaimTTL is how long an execution claim is honoured before another
	// approve may take it over.
	ClaimTTL time.Duration
	Logger   *slog.Logger
}

// Lifecycle proposes, approves, skips and edits actions.
type Lifecycle struct {
	store       Store
	executor    Executor
	notifier    Notifier
	execTimeout time.Duration
	claimTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
	pending     sync.WaitGroup
}

// NewLifecycle creates a Lifecycle. notifier may be nil.
func NewLifecycle(store Store, executor Executor, notifier Notifier, cfg Config) *Lifecycle {
	l := &Lifecycle{
		store:       store,
		executor:    executor,
		notifier:    notifier,
		execTimeout: cfg.ExecutorTimeout,
		claimTTL:    cfg.ClaimTTL,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if l.execTimeout <= 0 {
		l.execTimeout = defaultExecutorTimeout
	}
	if l.claimTTL <= 0 {
		l.claimTTL = defaultClaimTTL
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Propose persists drafts as pending actions and marks the context processed
// in one transaction. Proposing for an already processed context returns its
// existing actions and sends no notifications.
func (l *Lifecycle) Propose(ctx context.Context, contextID string, drafts []decision.Draft) ([]storage.Action, error) {
	rows := make([]storage.NewAction, 0, len(drafts))
	for _, d := range drafts {
		na, err := d.NewAction()
		if err != nil {
			return nil, fmt.Errorf("preparing %s draft: %w", d.Type, err)
		}
		rows = append(rows, na)
	}

	actions, inserted, err := l.store.InsertActions(ctx, contextID, rows)
	if err != nil {
		return nil, fmt.Errorf("persisting actions for %s: %w", contextID, err)
	}
	if inserted {
		for _, a := range actions {
			if a.Type != storage.ActionNoAction {
				l.notify(a)
			}
		}
	}
	return actions, nil
}

// notify runs the notifier in the background; failures are only logged.
func (l *Lifecycle) notify(a storage.Action) {
	if l.notifier == nil {
		return
	}
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := l.notifier.NotifyNewAction(ctx, a); err != nil {
			l.logger.Warn("new action notification failed", "action_id", a.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (l *Lifecycle) Wait() {
	l.pending.Wait()
}

// Approve executes the action. An executed action returns its stored result
// without running again. A failed dispatch is recorded as status error and
// the action is returned without an error; approving it again retries.
func (l *Lifecycle) Approve(ctx context.Context, id int64) (storage.Action, error) {
	a, err := l.store.GetAction(ctx, id)
	if err != nil {
		return storage.Action{}, err
	}
	if a.Status == storage.StatusExecuted {
		return a, nil
	}

	won, err := l.store.ClaimAction(ctx, id, l.now().Add(-l.claimTTL))
	if err != nil {
		return storage.Action{}, err
	}
	if !won {
		current, err := l.store.GetAction(ctx, id)
		if err != nil {
			return storage.Action{}, err
		}
		if current.Status == storage.StatusExecuted {
			return current, nil
		}
		return current, ErrInProgress
	}

	// The dispatch must not be abandoned halfway because the caller went away.
	runCtx := context.WithoutCancel(ctx)

	// An edit may have landed between the first read and the claim. Once
	// claimed the payload is frozen, so execute what is stored now. A failed
	// read leaves the claim to expire after claimTTL.
	if a, err = l.store.GetAction(runCtx, id); err != nil {
		return storage.Action{}, fmt.Errorf("reloading claimed action %d: %w", id, err)
	}
	execCtx, cancel := context.WithTimeout(runCtx, l.execTimeout)
	start := time.Now()
	outcome, execErr := l.executor.Execute(execCtx, a.Type, a.Payload)
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	cancel()

	status, result := l.result(outcome, execErr, timedOut)
	if err := l.store.CompleteAction(runCtx, id, status, result); err != nil {
		return storage.Action{}, fmt.Errorf("recording result of action %d: %w", id, err)
	}

	logArgs := []any{"action_id", id, "type", a.Type, "status", status, "duration_ms", time.Since(start).Milliseconds()}
	if status == storage.StatusError {
		l.logger.Warn("action execution failed", append(logArgs, "result", string(result))...)
	} else {
		l.logger.Info("action executed", logArgs...)
	}
	return l.store.GetAction(runCtx, id)
}

func (l *Lifecycle) result(outcome Outcome, err error, timedOut bool) (storage.ActionStatus, json.RawMessage) {
	if err == nil && outcome.Success {
		body := map[string]any{}
		for k, v := range outcome.Detail {
			body[k] = v
		}
		body["success"] = true
		return storage.StatusExecuted, mustJSON(body)
	}

	failure := map[string]any{}
	var ef *ExecutionFailure
	switch {
	case timedOut:
		failure["reason"] = "executor_timeout"
		failure["ambiguous"] = true
	case errors.As(err, &ef):
		for k, v := range ef.Detail {
			failure[k] = v
		}
		failure["reason"] = ef.Reason
		if ef.Err != nil {
			failure["message"] = ef.Err.Error()
		}
	case err != nil:
		failure["reason"] = "executor_error"
		failure["message"] = err.Error()
	default:
		for k, v := range outcome.Detail {
			failure[k] = v
		}
		if _, ok := failure["reason"]; !ok {
			failure["reason"] = "failed"
		}
	}
	return storage.StatusError, mustJSON(map[string]any{"success": false, "error": failure})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"success": false, "error": map[string]any{"reason": "unencodable_result"}})
	}
	return b
}

// Skip moves a pending action to skipped. Any other status is left alone and
// the current action is returned.
func (l *Lifecycle) Skip(ctx context.Context, id int64) (storage.Action, error) {
	if _, err := l.store.SkipAction(ctx, id); err != nil {
		return storage.Action{}, err
	}
	return l.store.GetAction(ctx, id)
}

// UpdatePayload replaces the payload of a pending action after validating it
// against the action type.
func (l *Lifecycle) UpdatePayload(ctx context.Context, id int64, payload json.RawMessage) (storage.Action, error) {
	a, err := l.store.GetAction(ctx, id)
	if err != nil {
		return storage.Action{}, err
	}
	p, err := decision.DecodePayload(a.Type, payload)
	if err != nil {
		return storage.Action{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	canonical, err := decision.EncodePayload(p)
	if err != nil {
		return storage.Action{}, err
	}
	if err := l.store.UpdateActionPayload(ctx, id, canonical); err != nil {
		return storage.Action{}, err
	}
	return l.store.GetAction(ctx, id)
}

func (l *Lifecycle) Get(ctx context.Context, id int64) (storage.Action, error) {
	return l.store.GetAction(ctx, id)
}

func (l *Lifecycle) List(ctx context.Context, f storage.ActionFilter) ([]storage.Action, error) {
	return l.store.ListActions(ctx, f)
}
