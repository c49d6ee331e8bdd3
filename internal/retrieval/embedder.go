package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esiebomaj/commander/internal/engine"
	"github.com/esiebomaj/commander/internal/textutil"
)

// ErrEmbeddingUnavailable is wrapped when the embedding backend could not
// produce a vector within the retry budget.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

const (
	maxEmbedAttempts    = 3
	defaultBackoff      = 200 * time.Millisecond
	defaultEmbedTimeout = 20 * time.Second
	defaultConcurrency  = 4
)

// DimensionError reports a vector whose length differs from the index dimension.
// It is not retried.
type DimensionError struct {
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension %d, want %d", e.Got, e.Want)
}

// BatchError identifies the lowest-indexed input that failed in EmbedBatch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding input %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// BatchResult holds one vector per input, in input order, and whether each
// input was truncated before embedding.
type BatchResult struct {
	Vectors   [][]float32
	Truncated []bool
}

// EmbedderConfig configures an Embedder. Zero values select defaults.
type EmbedderConfig struct {
	Model string
	// Dimensions is the expected vector length; 0 adopts the first one seen.
	Dimensions int
	MaxTokens  int
	// Timeout bounds each upstream attempt.
	Timeout time.Duration
	// Preamble is prepended to every input (e.g. "search_document: ").
	Preamble    string
	Tokenizer   textutil.Tokenizer
	Concurrency int
	Cache       *Cache
	Logger      *slog.Logger
}

// Embedder wraps an Engine to generate text embeddings. Every input is
// truncated to the token budget before it reaches the engine.
type Embedder struct {
	engine      engine.Engine
	model       string
	preamble    string
	maxTokens   int
	timeout     time.Duration
	backoff     time.Duration
	concurrency int
	truncator   *textutil.Truncator
	cache       *Cache
	logger      *slog.Logger
	dims        atomic.Int64
}

// NewEmbedder creates an Embedder using the given Engine.
func NewEmbedder(e engine.Engine, cfg EmbedderConfig) *Embedder {
	em := &Embedder{
		engine:      e,
		model:       cfg.Model,
		preamble:    cfg.Preamble,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		backoff:     defaultBackoff,
		concurrency: cfg.Concurrency,
		truncator:   textutil.NewTruncator(cfg.Tokenizer, cfg.Preamble),
		cache:       cfg.Cache,
		logger:      cfg.Logger,
	}
	if em.maxTokens <= 0 {
		em.maxTokens = textutil.DefaultMaxTokens
	}
	if em.timeout <= 0 {
		em.timeout = defaultEmbedTimeout
	}
	if em.concurrency <= 0 {
		em.concurrency = defaultConcurrency
	}
	if em.logger == nil {
		em.logger = slog.Default()
	}
	em.dims.Store(int64(cfg.Dimensions))
	return em
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Dimensions returns the enforced vector length, or 0 if none has been seen yet.
func (e *Embedder) Dimensions() int { return int(e.dims.Load()) }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := e.embedOne(ctx, text)
	return vec, err
}

// EmbedBatch embeds texts with bounded concurrency. The result is all or
// nothing: if any input fails, a *BatchError naming the lowest failing index
// is returned and no vectors are.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) (BatchResult, error) {
	if len(texts) == 0 {
		return BatchResult{}, nil
	}

	res := BatchResult{
		Vectors:   make([][]float32, len(texts)),
		Truncated: make([]bool, len(texts)),
	}
	errs := make([]error, len(texts))

	// Siblings are not cancelled on failure so the reported index is stable.
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, truncated, err := e.embedOne(ctx, text)
			if err != nil {
				errs[i] = err
				return nil
			}
			res.Vectors[i] = vec
			res.Truncated[i] = truncated
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			return BatchResult{}, &BatchError{Index: i, Err: err}
		}
	}
	return res, nil
}

func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, bool, error) {
	input, truncated := e.truncator.Truncate(text, e.maxTokens)
	if input == "" {
		return nil, truncated, fmt.Errorf("embedding text: empty input")
	}
	if truncated {
		e.logger.Debug("embedding input truncated", "model", e.model, "max_tokens", e.maxTokens)
	}

	if vec, ok := e.cache.Get(e.model, input); ok {
		return vec, truncated, nil
	}

	vec, err := e.callWithRetry(ctx, e.preamble+input)
	if err != nil {
		return nil, truncated, err
	}
	if err := e.checkDims(vec); err != nil {
		return nil, truncated, err
	}

	e.cache.Set(e.model, input, vec)
	return vec, truncated, nil
}

func (e *Embedder) callWithRetry(ctx context.Context, input string) ([]float32, error) {
	var lastErr error
	backoff := e.backoff
	attempts := 0
	for attempts < maxEmbedAttempts {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		vec, err := e.engine.Embed(callCtx, e.model, input)
		cancel()
		if err == nil && len(vec) == 0 {
			err = fmt.Errorf("empty embedding returned")
		}
		if err == nil {
			return vec, nil
		}

		lastErr = err
		e.logger.Debug("embedding attempt failed", "model", e.model, "attempt", attempts, "error", err)
		if ctx.Err() != nil || attempts == maxEmbedAttempts {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: after %d attempts: %w", ErrEmbeddingUnavailable, attempts, lastErr)
}

func (e *Embedder) checkDims(vec []float32) error {
	got := int64(len(vec))
	if e.dims.CompareAndSwap(0, got) {
		return nil
	}
	if want := e.dims.Load(); want != got {
		return &DimensionError{Got: int(got), Want: int(want)}
	}
	return nil
}
