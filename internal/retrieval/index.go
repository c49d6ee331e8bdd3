package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrIndexUnavailable is wrapped by every VectorIndex failure. Callers treat it
// as "similarity is unknown right now", not as a data error.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Payload is the subset of a context kept next to its vector.
type Payload struct {
	ContextID  string    `json:"context_id"`
	SourceType string    `json:"source_type"`
	Sender     string    `json:"sender,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Point is one indexed vector. ID is the context ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a query hit. Score is the cosine similarity to the query.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// Filter narrows a Query. The zero value matches everything.
type Filter struct {
	SourceType string
	ExcludeIDs []string
	MinScore   float32
}

func (f *Filter) excluded() map[string]struct{} {
	if f == nil || len(f.ExcludeIDs) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(f.ExcludeIDs))
	for _, id := range f.ExcludeIDs {
		m[id] = struct{}{}
	}
	return m
}

func (f *Filter) sourceType() string {
	if f == nil {
		return ""
	}
	return f.SourceType
}

func (f *Filter) minScore() (float32, bool) {
	if f == nil || f.MinScore == 0 {
		return 0, false
	}
	return f.MinScore, true
}

// VectorIndex stores context vectors and answers nearest-neighbour queries.
// The index may lag the context store; a missing point is "not similar".
type VectorIndex interface {
	// Upsert inserts or overwrites the point with p.ID.
	Upsert(ctx context.Context, p Point) error

	// Query returns up to k points ordered by descending score. Equal scores
	// are ordered by newer Payload.Timestamp first, then by ID ascending.
	Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error)

	// Delete removes the point. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of indexed points.
	Count(ctx context.Context) (int, error)
}

// ranksBefore reports whether a sorts ahead of b in query results.
func ranksBefore(a, b ScoredPoint) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Payload.Timestamp.Equal(b.Payload.Timestamp) {
		return a.Payload.Timestamp.After(b.Payload.Timestamp)
	}
	return a.ID < b.ID
}

func sortScored(points []ScoredPoint) {
	sort.SliceStable(points, func(i, j int) bool { return ranksBefore(points[i], points[j]) })
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
}

// timeoutIndex bounds every call of the wrapped index.
type timeoutIndex struct {
	inner   VectorIndex
	timeout time.Duration
}

// WithTimeout wraps idx so that each call is bounded by d. Deadline errors are
// reported as ErrIndexUnavailable.
func WithTimeout(idx VectorIndex, d time.Duration) VectorIndex {
	if d <= 0 {
		return idx
	}
	return &timeoutIndex{inner: idx, timeout: d}
}

func (t *timeoutIndex) Upsert(ctx context.Context, p Point) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap("upsert", t.inner.Upsert(ctx, p))
}

func (t *timeoutIndex) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.inner.Query(ctx, vector, k, filter)
	return res, t.wrap("query", err)
}

func (t *timeoutIndex) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap("delete", t.inner.Delete(ctx, id))
}

func (t *timeoutIndex) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	n, err := t.inner.Count(ctx)
	return n, t.wrap("count", err)
}

func (t *timeoutIndex) wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrIndexUnavailable) {
		return err
	}
	return unavailable(op, err)
}
