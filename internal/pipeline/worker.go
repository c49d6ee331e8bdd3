package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esiebomaj/commander/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	AbandonJob(ctx context.Context, id string, errMsg string) error
}

// ContextProcessor runs the pipeline for a stored context.
type ContextProcessor interface {
	Process(ctx context.Context, id string) ([]storage.Action, error)
}

// Worker processes process_context jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	processor ContextProcessor
	poll      time.Duration
	workers   int
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms. workers <= 0 defaults to 4.
func NewWorker(store JobStore, processor ContextProcessor, pollInterval time.Duration, workers int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Worker{
		store:     store,
		processor: processor,
		poll:      pollInterval,
		workers:   workers,
		logger:    slog.Default(),
	}
}

// Run polls for jobs with the configured number of loops until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.loop(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single process_context job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeProcess})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.logger.Warn("dropping job for missing context", "job_id", job.ID)
			return true, w.complete(ctx, job.ID)
		}
		var failure *IngestionFailure
		if errors.As(err, &failure) && !failure.Retryable() {
			// Backing off cannot fix it; the reconciler re-arms the job if the
			// context is still unprocessed.
			w.logger.Error("job failed permanently", "job_id", job.ID, "stage", failure.Stage, "error", err)
			if failErr := w.store.AbandonJob(ctx, job.ID, err.Error()); failErr != nil {
				w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			}
			return true, nil
		}
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	return true, w.complete(ctx, job.ID)
}

func (w *Worker) complete(ctx context.Context, id string) error {
	if err := w.store.CompleteJob(ctx, id); err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload processPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.ContextID == "" {
		return fmt.Errorf("job %s has no context_id", job.ID)
	}
	_, err := w.processor.Process(ctx, payload.ContextID)
	return err
}
