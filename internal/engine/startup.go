package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrUnreachable is returned by EnsureReady when the backend does not answer.
var ErrUnreachable = errors.New("inference engine is not reachable")

const warmUpTimeout = 30 * time.Second

// EnsureReady checks that e answers and, for local backends, pulls any
// missing model with progress written to w. Both models are then loaded with
// a throwaway request so the first ingested event does not pay the cold start.
// Warm-up failures are reported but not returned.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return ErrUnreachable
	}
	if v, ok := e.(Versioner); ok {
		if version, err := v.Version(ctx); err == nil {
			fmt.Fprintf(w, "engine version %s\n", version)
		}
	}

	if mm, ok := e.(ModelManager); ok {
		for _, model := range uniqueModels(chatModel, embedModel) {
			if err := ensureModel(ctx, mm, model, w); err != nil {
				return err
			}
		}
	}

	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if embedModel != "" {
		if _, err := e.Embed(warmCtx, embedModel, "warm-up"); err != nil {
			fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", embedModel, err)
		}
	}
	if chatModel != "" {
		if _, err := e.Chat(warmCtx, chatModel, []Message{{Role: RoleUser, Content: "ping"}}, nil); err != nil {
			fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", chatModel, err)
		} else {
			fmt.Fprintf(w, "model %s: warm\n", chatModel)
		}
	}
	return nil
}

func uniqueModels(chatModel, embedModel string) []string {
	var models []string
	if chatModel != "" {
		models = append(models, chatModel)
	}
	if embedModel != "" && embedModel != chatModel {
		models = append(models, embedModel)
	}
	return models
}

func ensureModel(ctx context.Context, mm ModelManager, model string, w io.Writer) error {
	if mm.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	lastPct := -1
	err := mm.PullModel(ctx, model, func(p PullProgress) {
		if p.Total <= 0 {
			fmt.Fprintf(w, "  %s\n", p.Status)
			return
		}
		// Layers report many times per percent; print each step once.
		pct := int(p.Completed * 100 / p.Total)
		if pct/10 != lastPct/10 {
			lastPct = pct
			fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
