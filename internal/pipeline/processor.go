// Package pipeline carries a context from ingestion to proposed actions:
// save, embed, index, assemble history, decide and propose.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/esiebomaj/commander/internal/decision"
	"github.com/esiebomaj/commander/internal/history"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

const (
	defaultHistoryLimit = 10
	defaultMaxAttempts  = 3
	maxContextActions   = 100
)

// Store is the subset of storage.Store the processor uses.
type Store interface {
	SaveContext(ctx context.Context, c storage.Context) (storage.Context, error)
	GetContext(ctx context.Context, id string) (storage.Context, error)
	GetContextBySource(ctx context.Context, sourceType storage.SourceType, sourceID string) (storage.Context, error)
	SaveEmbedding(ctx context.Context, id string, vec []float32) error
	MarkEmbedded(ctx context.Context, id string) error
	ListActions(ctx context.Context, f storage.ActionFilter) ([]storage.Action, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Embedder produces the vector for a context's text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HistoryFetcher assembles the relevant history of a context.
type HistoryFetcher interface {
	Fetch(ctx context.Context, current storage.Context, semanticLimit, recentLimit int) (history.Result, error)
}

// Decider turns a context and its history into action drafts.
type Decider interface {
	Decide(ctx context.Context, current storage.Context, hist []history.Entry) []decision.Draft
}

// Proposer persists drafts and marks the context processed.
type Proposer interface {
	Propose(ctx context.Context, contextID string, drafts []decision.Draft) ([]storage.Action, error)
}

// Config configures a Processor. Zero values select defaults.
type Config struct {
	// HistoryLimit is split between similar and recent contexts.
	HistoryLimit int
	// MaxAttempts bounds how often a queued context is retried.
	MaxAttempts int
	Logger      *slog.Logger
}

// Processor runs the ingestion pipeline for one context at a time. It holds
// no per-context state, so it is safe for concurrent use.
type Processor struct {
	store       Store
	embedder    Embedder
	index       retrieval.VectorIndex
	history     HistoryFetcher
	decider     Decider
	proposer    Proposer
	semLimit    int
	recLimit    int
	maxAttempts int
	logger      *slog.Logger
}

// NewProcessor creates a Processor wired to all pipeline components.
func NewProcessor(store Store, embedder Embedder, index retrieval.VectorIndex, hist HistoryFetcher, decider Decider, proposer Proposer, cfg Config) *Processor {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	p := &Processor{
		store:       store,
		embedder:    embedder,
		index:       index,
		history:     hist,
		decider:     decider,
		proposer:    proposer,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
	}
	p.semLimit, p.recLimit = history.SplitLimit(limit)
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Saved is the outcome of storing an event.
type Saved struct {
	Context storage.Context
	// Duplicate is true when the idempotency key was already known; Context
	// is then the stored one.
	Duplicate bool
}

// Save stores c under its idempotency key. A repeat returns the existing
// context instead of an error.
func (p *Processor) Save(ctx context.Context, c storage.Context) (Saved, error) {
	saved, err := p.store.SaveContext(ctx, c)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, err := p.store.GetContextBySource(ctx, c.SourceType, c.SourceID)
		if err != nil {
			return Saved{}, fmt.Errorf("loading existing context: %w", err)
		}
		return Saved{Context: existing, Duplicate: true}, nil
	}
	if err != nil {
		return Saved{}, err
	}
	return Saved{Context: saved}, nil
}

// Submit saves c and queues it for background processing. Re-submitting an
// unprocessed context queues it again.
func (p *Processor) Submit(ctx context.Context, c storage.Context) (Saved, error) {
	s, err := p.Save(ctx, c)
	if err != nil {
		return Saved{}, err
	}
	if s.Context.Processed() {
		return s, nil
	}
	if err := p.Enqueue(ctx, s.Context.ID); err != nil {
		return Saved{}, err
	}
	return s, nil
}

// Enqueue queues a process_context job for the context.
func (p *Processor) Enqueue(ctx context.Context, contextID string) error {
	job, err := NewProcessJob(contextID, p.maxAttempts)
	if err != nil {
		return err
	}
	if err := p.store.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("queueing context %s: %w", contextID, err)
	}
	return nil
}

// Ingested is the outcome of a synchronous ingest.
type Ingested struct {
	Saved
	Actions []storage.Action
}

// Ingest saves c and processes it before returning.
func (p *Processor) Ingest(ctx context.Context, c storage.Context) (Ingested, error) {
	s, err := p.Save(ctx, c)
	if err != nil {
		return Ingested{}, err
	}
	actions, err := p.Process(ctx, s.Context.ID)
	if err != nil {
		return Ingested{Saved: s}, err
	}
	return Ingested{Saved: s, Actions: actions}, nil
}

// Process runs embed, index, history, decide and propose for a stored
// context. A processed context returns its existing actions untouched. A
// stored vector is re-used rather than embedding again.
func (p *Processor) Process(ctx context.Context, id string) ([]storage.Action, error) {
	start := time.Now()
	c, err := p.store.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Processed() {
		return p.store.ListActions(ctx, storage.ActionFilter{ContextID: id, Limit: maxContextActions})
	}

	if err := p.embed(ctx, &c); err != nil {
		return nil, err
	}

	hist, err := p.history.Fetch(ctx, c, p.semLimit, p.recLimit)
	if err != nil {
		return nil, fail(StageHistory, id, err)
	}

	drafts := p.decider.Decide(ctx, c, hist.Entries)

	actions, err := p.proposer.Propose(ctx, id, drafts)
	if err != nil {
		return nil, fail(StagePropose, id, err)
	}

	p.logger.Info("context processed",
		"context_id", id,
		"source_type", c.SourceType,
		"history", len(hist.Entries),
		"degraded", hist.Degraded,
		"actions", len(actions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return actions, nil
}

// embed makes sure c has a stored vector and that the vector reached the
// index. Each step is skipped when already done.
func (p *Processor) embed(ctx context.Context, c *storage.Context) error {
	if len(c.Embedding) == 0 {
		if p.embedder == nil {
			return fail(StageEmbed, c.ID, retrieval.ErrEmbeddingUnavailable)
		}
		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			return fail(StageEmbed, c.ID, err)
		}
		if err := p.store.SaveEmbedding(ctx, c.ID, vec); err != nil {
			return fail(StageStore, c.ID, err)
		}
		c.Embedding = vec
	}

	if c.Embedded() {
		return nil
	}
	if p.index == nil {
		return fail(StageIndex, c.ID, retrieval.ErrIndexUnavailable)
	}
	err := p.index.Upsert(ctx, retrieval.Point{
		ID:     c.ID,
		Vector: c.Embedding,
		Payload: retrieval.Payload{
			ContextID:  c.ID,
			SourceType: string(c.SourceType),
			Sender:     c.Sender,
			Summary:    c.Summary,
			Timestamp:  c.Timestamp,
		},
	})
	if err != nil {
		return fail(StageIndex, c.ID, err)
	}
	if err := p.store.MarkEmbedded(ctx, c.ID); err != nil {
		return fail(StageStore, c.ID, err)
	}
	now := time.Now().UTC()
	c.EmbeddedAt = &now
	return nil
}
