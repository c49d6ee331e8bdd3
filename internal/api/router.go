// Package api exposes contexts and actions over HTTP (chi), a websocket
// stream of new actions, and MCP tools over stdio.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/esiebomaj/commander/internal/pipeline"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
)

const maxRequestBodySize = 1 << 20    // 1MB
const maxBatchBodySize = 10 << 20     // 10MB
const maxBatchItems = 100

// Pipeline ingests contexts.
type Pipeline interface {
	Submit(ctx context.Context, c storage.Context) (pipeline.Saved, error)
	IngestBatch(ctx context.Context, items []storage.Context, workers int) []pipeline.BatchOutcome
}

// ContextStore reads and annotates stored contexts.
type ContextStore interface {
	GetContext(ctx context.Context, id string) (storage.Context, error)
	GetContexts(ctx context.Context, ids []string) ([]storage.Context, error)
	ListRecentContexts(ctx context.Context, limit int, f storage.RecentFilter) ([]storage.Context, error)
	UpdateSummary(ctx context.Context, id, summary string) error
	CountContexts(ctx context.Context) (int, error)
}

// ActionService drives the action lifecycle.
type ActionService interface {
	Get(ctx context.Context, id int64) (storage.Action, error)
	List(ctx context.Context, f storage.ActionFilter) ([]storage.Action, error)
	Approve(ctx context.Context, id int64) (storage.Action, error)
	Skip(ctx context.Context, id int64) (storage.Action, error)
	UpdatePayload(ctx context.Context, id int64, payload json.RawMessage) (storage.Action, error)
}

// Searcher finds contexts similar to a text.
type Searcher interface {
	Search(ctx context.Context, text string, k int, filter *retrieval.Filter) ([]retrieval.ScoredPoint, error)
}

// IndexCounter reports the number of indexed vectors.
type IndexCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatsReporter summarizes the processing backlog.
type StatsReporter interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

type Deps struct {
	Pipeline      Pipeline
	Contexts      ContextStore
	Actions       ActionService
	Searcher      Searcher
	Index         IndexCounter
	Stats         StatsReporter // optional
	Hub           *Hub // optional; without it the stream endpoint is not mounted
	Token         string
	BatchWorkers  int
	VectorBackend string
}

// NewHandler returns the HTTP API. Everything under /v1 requires the bearer
// token; /health does not.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/contexts", handleIngest(deps))
		r.Post("/contexts/batch", handleIngestBatch(deps))
		r.Post("/contexts/similar", handleSimilar(deps))
		r.Get("/contexts", handleListContexts(deps))
		r.Get("/contexts/{id}", handleGetContext(deps))
		r.Patch("/contexts/{id}", handlePatchContext(deps))

		r.Get("/actions", handleListActions(deps))
		if deps.Hub != nil {
			r.Get("/actions/stream", deps.Hub.ServeHTTP)
		}
		r.Get("/actions/{id}", handleGetAction(deps))
		r.Patch("/actions/{id}", handlePatchAction(deps))
		r.Post("/actions/{id}/approve", handleApprove(deps))
		r.Post("/actions/{id}/skip", handleSkip(deps))
	})
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.VectorBackend != "" {
			body["vector_backend"] = deps.VectorBackend
		}
		if deps.Index != nil {
			n, err := deps.Index.Count(r.Context())
			if err != nil {
				body["status"] = "degraded"
				body["vector_error"] = err.Error()
			} else {
				body["vectors"] = n
			}
		}
		if deps.Stats != nil {
			st, err := deps.Stats.Stats(r.Context())
			if err != nil {
				body["status"] = "degraded"
				body["storage_error"] = err.Error()
			} else {
				body["backlog"] = st
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
