package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/esiebomaj/commander/internal/storage"
)

const (
	defaultReconcileSchedule = "@every 5m"
	defaultStaleAfter        = 10 * time.Minute
	reconcileBatch           = 200
)

// ReconcileStore is what the reconciler needs from storage.
type ReconcileStore interface {
	ListUnprocessed(ctx context.Context, limit int) ([]storage.Context, error)
	ResetStaleJobs(ctx context.Context, before time.Time) (int, error)
}

// Enqueuer queues a context for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, contextID string) error
}

// Reconciler periodically re-queues contexts that never finished processing
// and recovers jobs left running by a crashed worker.
type Reconciler struct {
	store      ReconcileStore
	queue      Enqueuer
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a Reconciler running on a cron schedule such as
// "@every 5m". An empty schedule uses the default.
func NewReconciler(store ReconcileStore, queue Enqueuer, schedule string, logger *slog.Logger) *Reconciler {
	if schedule == "" {
		schedule = defaultReconcileSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:      store,
		queue:      queue,
		schedule:   schedule,
		staleAfter: defaultStaleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Start schedules reconciliation until ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		if _, err := r.Reconcile(ctx); err != nil {
			r.logger.Error("reconcile failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling reconciler %q: %w", r.schedule, err)
	}
	r.cron = c
	c.Start()
	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running reconcile to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Reconcile runs one pass and returns how many contexts were queued.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	reset, err := r.store.ResetStaleJobs(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		r.logger.Warn("reset stale jobs", "count", reset)
	}

	pending, err := r.store.ListUnprocessed(ctx, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("listing unprocessed contexts: %w", err)
	}
	queued := 0
	for _, c := range pending {
		if err := r.queue.Enqueue(ctx, c.ID); err != nil {
			r.logger.Warn("re-queue failed", "context_id", c.ID, "error", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		r.logger.Info("re-queued unprocessed contexts", "count", queued)
	}
	return queued, nil
}
