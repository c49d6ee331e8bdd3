package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/esiebomaj/commander/internal/storage"
)

const (
	defaultActionListLimit = 50
	maxActionListLimit     = 200
)

// parseActionFilter reads the list filters from the query string. Unknown
// enum values are rejected rather than silently matching nothing.
func parseActionFilter(r *http.Request) (storage.ActionFilter, error) {
	q := r.URL.Query()
	f := storage.ActionFilter{
		Status:     storage.ActionStatus(q.Get("status")),
		SourceType: storage.SourceType(q.Get("source_type")),
		Type:       storage.ActionType(q.Get("type")),
		ContextID:  q.Get("context_id"),
		Limit:      parseIntParam(r, "limit", defaultActionListLimit, maxActionListLimit),
		Offset:     parseIntParam(r, "offset", 0, 0),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &filterError{"status", string(f.Status)}
	}
	if f.SourceType != "" && !f.SourceType.Valid() {
		return f, &filterError{"source_type", string(f.SourceType)}
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, &filterError{"type", string(f.Type)}
	}
	return f, nil
}

type filterError struct {
	field, value string
}

func (e *filterError) Error() string {
	return "invalid " + e.field + " " + strconv.Quote(e.value)
}

func actionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid action id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

func handleListActions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseActionFilter(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		list, err := deps.Actions.List(r.Context(), f)
		if err != nil {
			writeErr(w, err, "actions")
			return
		}
		views := actionViews(list)
		if views == nil {
			views = []ActionView{}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := actionID(w, r)
		if !ok {
			return
		}
		a, err := deps.Actions.Get(r.Context(), id)
		if err != nil {
			writeErr(w, err, "action")
			return
		}
		writeJSON(w, http.StatusOK, NewActionView(a))
	}
}

// handleApprove returns 200 with the action whatever the executor outcome;
// a failed execution shows up as status "error" with the reason in result.
func handleApprove(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := actionID(w, r)
		if !ok {
			return
		}
		a, err := deps.Actions.Approve(r.Context(), id)
		if err != nil {
			writeErr(w, err, "action")
			return
		}
		writeJSON(w, http.StatusOK, NewActionView(a))
	}
}

func handleSkip(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := actionID(w, r)
		if !ok {
			return
		}
		a, err := deps.Actions.Skip(r.Context(), id)
		if err != nil {
			writeErr(w, err, "action")
			return
		}
		writeJSON(w, http.StatusOK, NewActionView(a))
	}
}

func handlePatchAction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := actionID(w, r)
		if !ok {
			return
		}
		var req struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Payload) == 0 || string(req.Payload) == "null" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "payload is required")
			return
		}
		a, err := deps.Actions.UpdatePayload(r.Context(), id, req.Payload)
		if err != nil {
			writeErr(w, err, "action")
			return
		}
		writeJSON(w, http.StatusOK, NewActionView(a))
	}
}
