package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/esiebomaj/commander/internal/storage"
)

const defaultWorkers = 4

// BatchOutcome is the result for one item of IngestBatch.
type BatchOutcome struct {
	Index int
	Ingested
	Err error
}

// IngestBatch ingests every context synchronously with at most workers in
// flight. Outcomes are in input order; one item failing never affects the
// others.
func (p *Processor) IngestBatch(ctx context.Context, items []storage.Context, workers int) []BatchOutcome {
	if workers <= 0 {
		workers = defaultWorkers
	}
	out := make([]BatchOutcome, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			res, err := p.Ingest(gctx, item)
			out[i] = BatchOutcome{Index: i, Ingested: res, Err: err}
			if err != nil {
				p.logger.Warn("batch item failed", "index", i, "source_type", item.SourceType, "source_id", item.SourceID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
