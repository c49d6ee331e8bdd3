package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/esiebomaj/commander/internal/ingest"
	"github.com/esiebomaj/commander/internal/retrieval"
	"github.com/esiebomaj/commander/internal/storage"
	"github.com/esiebomaj/commander/internal/textutil"
)

const (
	defaultSimilarLimit = 10
	maxSimilarLimit     = 50
	similarTextChars    = 500
)

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}
		c, err := ingest.DecodeEvent(body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		saved, err := deps.Pipeline.Submit(r.Context(), c)
		if err != nil {
			writeErr(w, err, "context")
			return
		}
		if saved.Duplicate {
			writeJSON(w, http.StatusOK, map[string]string{"id": saved.Context.ID, "status": "duplicate"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": saved.Context.ID, "status": "queued"})
	}
}

type batchItemResult struct {
	Index   int          `json:"index"`
	ID      string       `json:"id,omitempty"`
	Status  string       `json:"status"`
	Error   string       `json:"error,omitempty"`
	Actions []ActionView `json:"actions,omitempty"`
}

func handleIngestBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBodySize)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Events) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "events is required and must not be empty")
			return
		}
		if len(req.Events) > maxBatchItems {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at most %d events per batch", maxBatchItems)
			return
		}

		results := make([]batchItemResult, len(req.Events))
		var valid []storage.Context
		var positions []int
		for i, raw := range req.Events {
			c, err := ingest.DecodeEvent(raw)
			if err != nil {
				results[i] = batchItemResult{Index: i, Status: "error", Error: err.Error()}
				continue
			}
			valid = append(valid, c)
			positions = append(positions, i)
		}

		for _, o := range deps.Pipeline.IngestBatch(r.Context(), valid, deps.BatchWorkers) {
			i := positions[o.Index]
			res := batchItemResult{Index: i, ID: o.Context.ID, Status: "processed", Actions: actionViews(o.Actions)}
			switch {
			case o.Err != nil:
				res.Status = "error"
				res.Error = o.Err.Error()
				res.Actions = nil
			case o.Duplicate:
				res.Status = "duplicate"
			}
			results[i] = res
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
	}
}

func handleListContexts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		f := storage.RecentFilter{SourceType: storage.SourceType(r.URL.Query().Get("source_type"))}
		if f.SourceType != "" && !f.SourceType.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid source_type %q", f.SourceType)
			return
		}

		list, err := deps.Contexts.ListRecentContexts(r.Context(), limit, f)
		if err != nil {
			writeErr(w, err, "contexts")
			return
		}
		views := make([]ContextView, len(list))
		for i, c := range list {
			views[i] = NewContextView(c)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, err := deps.Contexts.GetContext(r.Context(), id)
		if err != nil {
			writeErr(w, err, "context")
			return
		}
		acts, err := deps.Actions.List(r.Context(), storage.ActionFilter{ContextID: id, Limit: 100})
		if err != nil {
			writeErr(w, err, "actions")
			return
		}
		view := NewContextView(c)
		view.Actions = actionViews(acts)
		writeJSON(w, http.StatusOK, view)
	}
}

func handlePatchContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Summary *string `json:"summary"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Summary == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "summary is required")
			return
		}
		if err := deps.Contexts.UpdateSummary(r.Context(), id, *req.Summary); err != nil {
			writeErr(w, err, "context")
			return
		}
		c, err := deps.Contexts.GetContext(r.Context(), id)
		if err != nil {
			writeErr(w, err, "context")
			return
		}
		writeJSON(w, http.StatusOK, NewContextView(c))
	}
}

// SimilarResult is one hit of a similarity search.
type SimilarResult struct {
	ID              string  `json:"id"`
	SourceType      string  `json:"source_type"`
	Sender          string  `json:"sender,omitempty"`
	Summary         string  `json:"summary,omitempty"`
	ContextText     string  `json:"context_text"`
	Timestamp       string  `json:"timestamp"`
	SimilarityScore float32 `json:"similarity_score"`
}

func handleSimilar(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text       string `json:"text"`
			Limit      int    `json:"limit"`
			SourceType string `json:"source_type"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		results, err := searchSimilar(r.Context(), deps.Searcher, deps.Contexts, req.Text, req.Limit, req.SourceType)
		if err != nil {
			writeErr(w, err, "similarity search")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
	}
}

// searchSimilar embeds text, queries the index and resolves hits to stored
// contexts. Hits whose context is gone are dropped.
func searchSimilar(ctx context.Context, searcher Searcher, store ContextStore, text string, limit int, sourceType string) ([]SimilarResult, error) {
	if searcher == nil {
		return nil, retrieval.ErrIndexUnavailable
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	limit = min(limit, maxSimilarLimit)

	var filter *retrieval.Filter
	if sourceType != "" {
		filter = &retrieval.Filter{SourceType: sourceType}
	}
	hits, err := searcher.Search(ctx, text, limit, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SimilarResult{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	contexts, err := store.GetContexts(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]storage.Context, len(contexts))
	for _, c := range contexts {
		byID[c.ID] = c
	}

	out := make([]SimilarResult, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, SimilarResult{
			ID:              c.ID,
			SourceType:      string(c.SourceType),
			Sender:          c.Sender,
			Summary:         c.Summary,
			ContextText:     textutil.Clip(c.Text, similarTextChars),
			Timestamp:       c.Timestamp.UTC().Format(time.RFC3339),
			SimilarityScore: h.Score,
		})
	}
	return out, nil
}
