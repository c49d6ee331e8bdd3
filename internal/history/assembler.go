// Package history assembles the prior contexts shown to the decision step:
// the most similar contexts from the vector index followed by the most recent
// processed ones, each with the actions already proposed for it.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

// Origin records which branch produced an entry.
type Origin string

const (
	OriginSemantic Origin = "semantic"
	OriginRecent   Origin = "recent"
)

// MergeOrder controls which branch comes first in a Result.
type MergeOrder string

const (
	SimilarFirst MergeOrder = "similar_first"
	RecentFirst  MergeOrder = "recent_first"
)

// ParseMergeOrder accepts the config spelling of a MergeOrder. Empty selects SimilarFirst.
func ParseMergeOrder(s string) (MergeOrder, error) {
	switch MergeOrder(s) {
	case "", SimilarFirst:
		return SimilarFirst, nil
	case RecentFirst:
		return RecentFirst, nil
	}
	return "", fmt.Errorf("unknown merge order %q (want %s or %s)", s, SimilarFirst, RecentFirst)
}

// Entry is one history context with its actions.
type Entry struct {
	Context storage.Context
	Actions []storage.Action
	Origin  Origin
	// Score is the similarity for semantic entries and 0 for recent ones.
	Score float64
}

// Result is the assembled history. Degraded is set when the semantic branch
// could not run because the embedder or index was unavailable.
type Result struct {
	Entries  []Entry
	Degraded bool
}

// IDs returns the context IDs in entry order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.Context.ID
	}
	return ids
}

// Store is the subset of storage.Store the assembler reads from.
type Store interface {
	GetContexts(ctx context.Context, ids []string) ([]storage.Context, error)
	ListRecentContexts(ctx context.Context, limit int, f storage.RecentFilter) ([]storage.Context, error)
	ActionsForContexts(ctx context.Context, ids []string) (map[string][]storage.Action, error)
}

// Embedder produces a query vector for a context that has none stored.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Assembler fetches relevant history for a context.
type Assembler struct {
	store    Store
	index    retrieval.VectorIndex
	embedder Embedder
	order    MergeOrder
	logger   *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMergeOrder sets which branch is placed first.
func WithMergeOrder(o MergeOrder) Option {
	return func(a *Assembler) { a.order = o }
}

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an Assembler. index and embedder may be nil, in which
// case every Fetch is degraded to the recency branch.
func NewAssembler(store Store, index retrieval.VectorIndex, embedder Embedder, opts ...Option) *Assembler {
	a := &Assembler{
		store:    store,
		index:    index,
		embedder: embedder,
		order:    SimilarFirst,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fetch returns up to semanticLimit similar contexts and up to recentLimit
// recent processed contexts, never including current and never repeating a
// context. Index and embedder failures degrade the result; store failures are
// returned.
func (a *Assembler) Fetch(ctx context.Context, current storage.Context, semanticLimit, recentLimit int) (Result, error) {
	var res Result

	semantic, degraded, err := a.semantic(ctx, current, semanticLimit)
	if err != nil {
		return Result{}, err
	}
	if degraded {
		res.Degraded = true
	}

	exclude := make([]string, 0, len(semantic)+1)
	exclude = append(exclude, current.ID)
	for _, e := range semantic {
		exclude = append(exclude, e.Context.ID)
	}
	recent, err := a.recent(ctx, exclude, semanticLimit, recentLimit)
	if err != nil {
		return Result{}, err
	}

	var ordered []Entry
	if a.order == RecentFirst {
		ordered = append(recent, semantic...)
	} else {
		ordered = append(semantic, recent...)
	}

	seen := make(map[string]bool, len(ordered)+1)
	seen[current.ID] = true
	for _, e := range ordered {
		if seen[e.Context.ID] {
			continue
		}
		seen[e.Context.ID] = true
		res.Entries = append(res.Entries, e)
	}

	if len(res.Entries) == 0 {
		return res, nil
	}
	actions, err := a.store.ActionsForContexts(ctx, res.IDs())
	if err != nil {
		return Result{}, fmt.Errorf("loading history actions: %w", err)
	}
	for i := range res.Entries {
		res.Entries[i].Actions = actions[res.Entries[i].Context.ID]
	}
	return res, nil
}

func (a *Assembler) semantic(ctx context.Context, current storage.Context, limit int) ([]Entry, bool, error) {
	if limit <= 0 {
		return nil, false, nil
	}
	if a.index == nil || (a.embedder == nil && len(current.Embedding) == 0) {
		a.logger.Warn("similarity search skipped", "context_id", current.ID, "degraded", true, "reason", "no index or embedder configured")
		return nil, true, nil
	}

	vec := current.Embedding
	if len(vec) == 0 {
		var err error
		vec, err = a.embedder.Embed(ctx, current.Text)
		if err != nil {
			a.logger.Warn("similarity search skipped", "context_id", current.ID, "degraded", true, "error", err)
			return nil, true, nil
		}
	}

	points, err := a.index.Query(ctx, vec, limit+1, &retrieval.Filter{ExcludeIDs: []string{current.ID}})
	if err != nil {
		a.logger.Warn("similarity search skipped", "context_id", current.ID, "degraded", true, "error", err)
		return nil, true, nil
	}

	ids := make([]string, 0, limit)
	scores := make(map[string]float64, limit)
	for _, p := range points {
		if p.ID == current.ID || len(ids) == limit {
			continue
		}
		ids = append(ids, p.ID)
		scores[p.ID] = float64(p.Score)
	}
	if len(ids) == 0 {
		return nil, false, nil
	}

	// The index may hold points whose contexts are gone; those are skipped.
	contexts, err := a.store.GetContexts(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("resolving similar contexts: %w", err)
	}
	entries := make([]Entry, len(contexts))
	for i, c := range contexts {
		entries[i] = Entry{Context: c, Origin: OriginSemantic, Score: scores[c.ID]}
	}
	return entries, false, nil
}

func (a *Assembler) recent(ctx context.Context, exclude []string, semanticLimit, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	contexts, err := a.store.ListRecentContexts(ctx, limit+semanticLimit+1, storage.RecentFilter{
		ProcessedOnly: true,
		ExcludeIDs:    exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("listing recent contexts: %w", err)
	}
	if len(contexts) > limit {
		contexts = contexts[:limit]
	}
	entries := make([]Entry, len(contexts))
	for i, c := range contexts {
		entries[i] = Entry{Context: c, Origin: OriginRecent}
	}
	return entries, nil
}

// SplitLimit divides a total history budget between the two branches, giving
// the semantic branch the smaller half.
func SplitLimit(total int) (semantic, recent int) {
	if total <= 0 {
		return 0, 0
	}
	semantic = total / 2
	return semantic, total - semantic
}
