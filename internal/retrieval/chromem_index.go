package retrieval

import (
	"context"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

var _ VectorIndex = (*ChromemIndex)(nil)

const chromemCollection = "contexts"

// ChromemIndex keeps context vectors in an embedded chromem-go collection.
// With a persist directory the collection survives restarts; otherwise it is
// rebuilt by re-indexing stored embeddings.
type ChromemIndex struct {
	col *chromem.Collection
}

// NewChromemIndex opens the index. An empty persistDir keeps it in memory.
func NewChromemIndex(persistDir string) (*ChromemIndex, error) {
	var db *chromem.DB
	if persistDir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", persistDir, err)
		}
	}

	// No embedding func: vectors are always supplied by the caller.
	col, err := db.GetOrCreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	return &ChromemIndex{col: col}, nil
}

// Upsert adds the document; chromem overwrites an existing ID.
func (c *ChromemIndex) Upsert(ctx context.Context, p Point) error {
	if p.ID == "" {
		return fmt.Errorf("upsert: empty point id")
	}
	if len(p.Vector) == 0 {
		return fmt.Errorf("upsert %s: empty vector", p.ID)
	}
	ts := p.Payload.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	// chromem normalizes in place; keep the caller's slice intact.
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)

	doc := chromem.Document{
		ID:        p.ID,
		Content:   p.Payload.Summary,
		Embedding: vec,
		Metadata: map[string]string{
			"context_id":  p.ID,
			"source_type": p.Payload.SourceType,
			"sender":      p.Payload.Sender,
			"summary":     p.Payload.Summary,
			"timestamp":   ts.UTC().Format(timeLayout),
		},
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return unavailable("adding document "+p.ID, err)
	}
	return nil
}

// Query asks chromem for enough neighbours to survive the exclusion list, then
// applies the remaining filter and the shared result ordering.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	if k <= 0 || norm(vector) == 0 {
		return nil, nil
	}
	if c.col.Count() == 0 {
		return nil, nil
	}

	exclude := filter.excluded()
	var where map[string]string
	if st := filter.sourceType(); st != "" {
		where = map[string]string{"source_type": st}
	}
	results, err := c.nearest(ctx, vector, k+len(exclude), where)
	if err != nil {
		return nil, err
	}

	minScore, hasMin := filter.minScore()
	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		if _, skip := exclude[r.ID]; skip {
			continue
		}
		if hasMin && r.Similarity < minScore {
			continue
		}
		ts, _ := time.Parse(timeLayout, r.Metadata["timestamp"])
		out = append(out, ScoredPoint{
			ID:    r.ID,
			Score: r.Similarity,
			Payload: Payload{
				ContextID:  r.ID,
				SourceType: r.Metadata["source_type"],
				Sender:     r.Metadata["sender"],
				Summary:    r.Metadata["summary"],
				Timestamp:  ts,
			},
		})
	}

	sortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// nearest returns at least the n most similar documents. chromem cuts its
// result at exactly n, so a tie at the cutoff would be broken by its internal
// order rather than ours. The fetch therefore takes one extra result and
// widens while that extra one still ties with the result before it.
func (c *ChromemIndex) nearest(ctx context.Context, vector []float32, n int, where map[string]string) ([]chromem.Result, error) {
	q := make([]float32, len(vector))
	copy(q, vector)
	want := n + 1
	for {
		total := c.col.Count()
		if total == 0 {
			return nil, nil
		}
		if want > total {
			want = total
		}
		results, err := c.col.QueryEmbedding(ctx, q, want, where, nil)
		if err != nil {
			return nil, unavailable("querying collection", err)
		}
		full := len(results) == want && want < total
		if !full || len(results) < 2 || results[want-1].Similarity != results[want-2].Similarity {
			return results, nil
		}
		want *= 2
	}
}

// Delete removes the document if present.
func (c *ChromemIndex) Delete(ctx context.Context, id string) error {
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		return unavailable("deleting "+id, err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (c *ChromemIndex) Count(_ context.Context) (int, error) {
	return c.col.Count(), nil
}
