package retrieval

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cache holds recently computed embeddings keyed by model and input text.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	c *ristretto.Cache
}

// NewCache creates a cache bounded to roughly maxItems vectors. maxItems <= 0
// returns a nil cache.
func NewCache(maxItems int64) (*Cache, error) {
	if maxItems <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxItems * 10,
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Cache{c: c}, nil
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

// Get returns a copy of the cached vector.
func (c *Cache) Get(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	vec := v.([]float32)
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores vec. Admission is best effort.
func (c *Cache) Set(model, text string, vec []float32) {
	if c == nil {
		return
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.c.Set(cacheKey(model, text), stored, 1)
}

// Wait blocks until pending writes are applied.
func (c *Cache) Wait() {
	if c != nil {
		c.c.Wait()
	}
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	if c != nil {
		c.c.Close()
	}
}
