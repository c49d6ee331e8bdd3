package retrieval

import (
	"context"
	"fmt"
)

// Searcher combines embedding and vector search to find similar contexts for
// free text.
type Searcher struct {
	embedder *Embedder
	index    VectorIndex
}

// NewSearcher creates a Searcher backed by the given Embedder and VectorIndex.
func NewSearcher(embedder *Embedder, index VectorIndex) *Searcher {
	return &Searcher{embedder: embedder, index: index}
}

// Search embeds text and returns the k most similar indexed contexts.
func (s *Searcher) Search(ctx context.Context, text string, k int, filter *Filter) ([]ScoredPoint, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.index.Query(ctx, vec, k, filter)
}
